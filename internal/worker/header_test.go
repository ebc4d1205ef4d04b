package worker

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	"github.com/go-sif/sifudf"
)

func TestHeaderSchemaRoundTrip(t *testing.T) {
	hdr := Header{
		EvalType:   sifudf.EvalGroupedAgg,
		ArgOffsets: [][]int{{0, 1}, {1}, {}},
		UDFNames:   []string{"a", "b", "c"},
		TimeZone:   "America/Toronto",
		Conf:       map[string]string{"arrow.safe": "true", "batch.size": "10"},
		BatchRows:  0,
	}
	fields := []arrow.Field{
		{Name: "_0", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "_1", Type: arrow.BinaryTypes.String, Nullable: true},
	}
	schema, err := hdr.Schema(fields)
	require.Nil(t, err)
	require.Equal(t, 2, schema.NumFields())

	decoded, err := ReadHeader(schema)
	require.Nil(t, err)
	require.Equal(t, hdr.EvalType, decoded.EvalType)
	require.Equal(t, [][]int{{0, 1}, {1}, nil}, decoded.ArgOffsets)
	require.Equal(t, hdr.UDFNames, decoded.UDFNames)
	require.Equal(t, hdr.TimeZone, decoded.TimeZone)
	require.Equal(t, hdr.Conf, decoded.Conf)
	require.Equal(t, 0, decoded.BatchRows)
}

func TestReadHeaderRequiresEvalType(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
	_, err := ReadHeader(schema)
	require.NotNil(t, err)

	md := arrow.NewMetadata([]string{metaEvalType}, []string{"bogus"})
	_, err = ReadHeader(arrow.NewSchema(nil, &md))
	require.NotNil(t, err)
}

func TestReadHeaderMalformedBatchRows(t *testing.T) {
	md := arrow.NewMetadata([]string{metaEvalType, metaBatchRows}, []string{"scalar", "many"})
	_, err := ReadHeader(arrow.NewSchema(nil, &md))
	require.NotNil(t, err)
}
