package worker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/go-sif/sifudf"
)

// Schema metadata keys carrying the Header. The header travels with the stream's schema
// message, so it is sent once per call rather than once per batch.
const (
	metaEvalType   = "sifudf.eval_type"
	metaArgOffsets = "sifudf.arg_offsets"
	metaUDFNames   = "sifudf.udf_names"
	metaTimeZone   = "sifudf.time_zone"
	metaBatchRows  = "sifudf.batch_rows"
	metaConfPrefix = "sifudf.conf."
)

// Header is the constant metadata of one worker call
type Header struct {
	EvalType sifudf.EvalType
	// ArgOffsets[i] lists the columns of the input stream holding the arguments of UDF i
	ArgOffsets [][]int
	UDFNames   []string
	TimeZone   string
	Conf       map[string]string
	// BatchRows is the most rows any input batch will carry, or 0 if unbounded
	BatchRows int
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Schema returns a schema with the given fields which carries h in its metadata
func (h Header) Schema(fields []arrow.Field) (*arrow.Schema, error) {
	offsets, err := json.MarshalToString(h.ArgOffsets)
	if err != nil {
		return nil, err
	}
	names, err := json.MarshalToString(h.UDFNames)
	if err != nil {
		return nil, err
	}
	keys := []string{metaEvalType, metaArgOffsets, metaUDFNames, metaTimeZone, metaBatchRows}
	vals := []string{h.EvalType.String(), offsets, names, h.TimeZone, strconv.Itoa(h.BatchRows)}
	confKeys := make([]string, 0, len(h.Conf))
	for k := range h.Conf {
		confKeys = append(confKeys, k)
	}
	sort.Strings(confKeys)
	for _, k := range confKeys {
		keys = append(keys, metaConfPrefix+k)
		vals = append(vals, h.Conf[k])
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(fields, &md), nil
}

// ReadHeader decodes the Header carried by a worker input stream's schema
func ReadHeader(schema *arrow.Schema) (Header, error) {
	md := schema.Metadata()
	get := func(key string) (string, bool) {
		i := md.FindKey(key)
		if i < 0 {
			return "", false
		}
		return md.Values()[i], true
	}
	var h Header
	et, ok := get(metaEvalType)
	if !ok {
		return h, fmt.Errorf("Input schema carries no %s", metaEvalType)
	}
	evalType, err := sifudf.ParseEvalType(et)
	if err != nil {
		return h, err
	}
	h.EvalType = evalType
	if raw, ok := get(metaArgOffsets); ok {
		if !gjson.Valid(raw) {
			return h, fmt.Errorf("Malformed %s: %q", metaArgOffsets, raw)
		}
		gjson.Parse(raw).ForEach(func(_, udf gjson.Result) bool {
			var offsets []int
			for _, o := range udf.Array() {
				offsets = append(offsets, int(o.Int()))
			}
			h.ArgOffsets = append(h.ArgOffsets, offsets)
			return true
		})
	}
	if raw, ok := get(metaUDFNames); ok && gjson.Valid(raw) {
		for _, n := range gjson.Parse(raw).Array() {
			h.UDFNames = append(h.UDFNames, n.String())
		}
	}
	h.TimeZone, _ = get(metaTimeZone)
	if raw, ok := get(metaBatchRows); ok {
		if h.BatchRows, err = strconv.Atoi(raw); err != nil {
			return h, fmt.Errorf("Malformed %s: %q", metaBatchRows, raw)
		}
	}
	for i, k := range md.Keys() {
		if strings.HasPrefix(k, metaConfPrefix) {
			if h.Conf == nil {
				h.Conf = make(map[string]string)
			}
			h.Conf[strings.TrimPrefix(k, metaConfPrefix)] = md.Values()[i]
		}
	}
	return h, nil
}
