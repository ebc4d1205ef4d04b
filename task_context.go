package sifudf

import (
	"context"
	"log"
	"time"

	uuid "github.com/gofrs/uuid"
)

// A TaskContext is a Context enhanced with the identity of the task processing one partition.
// Cancelling the underlying Context cancels the task.
type TaskContext interface {
	context.Context
	TaskID() string   // TaskID uniquely identifies this task within the process
	PartitionID() int // PartitionID returns the partition this task is processing
}

type taskContextImpl struct {
	ctx         context.Context
	taskID      string
	partitionID int
}

// NewTaskContext creates a TaskContext with a fresh task ID for the given partition
func NewTaskContext(ctx context.Context, partitionID int) TaskContext {
	id, err := uuid.NewV4()
	if err != nil {
		log.Fatalf("failed to generate UUID: %v", err)
	}
	return &taskContextImpl{
		ctx:         ctx,
		taskID:      id.String(),
		partitionID: partitionID,
	}
}

func (t *taskContextImpl) Deadline() (deadline time.Time, ok bool) {
	return t.ctx.Deadline()
}

func (t *taskContextImpl) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t *taskContextImpl) Err() error {
	return t.ctx.Err()
}

func (t *taskContextImpl) Value(key interface{}) interface{} {
	return t.ctx.Value(key)
}

func (t *taskContextImpl) TaskID() string {
	return t.taskID
}

func (t *taskContextImpl) PartitionID() int {
	return t.partitionID
}
