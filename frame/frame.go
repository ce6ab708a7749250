// Copyright 2024 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package frame is a small column-major table used by the marts stage. A
// Frame is loaded from Arrow (and written back through Arrow), so the data
// keeps its columnar layout all the way from the staged Parquet file to the
// mart artifacts. It supports exactly what mart functions need: named
// columns, row filtering, and row appends - nothing more.
package frame

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/pilosa/mds/parquet"
	"github.com/pkg/errors"
)

// Frame is an ordered set of named columns of equal length. Cells are
// interface{} values of type int64, float64, string, bool, or time.Time;
// nil is a null cell.
type Frame struct {
	names []string
	cols  map[string][]interface{}
}

// New creates an empty Frame with the given column names.
func New(names ...string) *Frame {
	f := &Frame{names: names, cols: make(map[string][]interface{}, len(names))}
	for _, n := range names {
		f.cols[n] = nil
	}
	return f
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	return f.names
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int {
	if len(f.names) == 0 {
		return 0
	}
	return len(f.cols[f.names[0]])
}

// Col returns the named column, or nil if the Frame has no such column.
func (f *Frame) Col(name string) []interface{} {
	return f.cols[name]
}

// AppendRow appends one row. vals must line up with the Frame's columns.
func (f *Frame) AppendRow(vals ...interface{}) error {
	if len(vals) != len(f.names) {
		return errors.Errorf("row has %d values, frame has %d columns", len(vals), len(f.names))
	}
	for i, n := range f.names {
		f.cols[n] = append(f.cols[n], vals[i])
	}
	return nil
}

// Filter returns a new Frame holding the rows for which keep returns true.
func (f *Frame) Filter(keep func(i int) bool) *Frame {
	out := New(f.names...)
	for i := 0; i < f.NumRows(); i++ {
		if !keep(i) {
			continue
		}
		for _, n := range f.names {
			out.cols[n] = append(out.cols[n], f.cols[n][i])
		}
	}
	return out
}

// AsTime interprets a cell as a timestamp.
func AsTime(v interface{}) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

// AsF64 interprets a cell as a number, accepting both the int64 and float64
// cell types.
func AsF64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// AsStr interprets a cell as a string.
func AsStr(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// FromArrow converts an Arrow table to a Frame. Timestamps come out as
// time.Time in UTC, small integer types widen to int64.
func FromArrow(tbl arrow.Table) (*Frame, error) {
	names := make([]string, tbl.NumCols())
	for j := range names {
		names[j] = tbl.Schema().Field(j).Name
	}
	f := New(names...)

	for j := 0; j < int(tbl.NumCols()); j++ {
		name := names[j]
		col := make([]interface{}, 0, tbl.NumRows())
		for _, chunk := range tbl.Column(j).Data().Chunks() {
			for k := 0; k < chunk.Len(); k++ {
				v, err := cell(chunk, k)
				if err != nil {
					return nil, errors.Wrapf(err, "column '%v'", name)
				}
				col = append(col, v)
			}
		}
		f.cols[name] = col
	}
	return f, nil
}

// ToArrow converts the Frame to an Arrow table. Each column's type is taken
// from its first non-nil cell; an all-null column becomes a string column.
// The caller must Release the returned table.
func (f *Frame) ToArrow() (arrow.Table, error) {
	fields := make([]arrow.Field, len(f.names))
	for i, n := range f.names {
		dt, err := columnType(f.cols[n])
		if err != nil {
			return nil, errors.Wrapf(err, "column '%v'", n)
		}
		fields[i] = arrow.Field{Name: n, Type: dt, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	bld := array.NewRecordBuilder(parquet.Pool, schema)
	defer bld.Release()
	for i, n := range f.names {
		for _, v := range f.cols[n] {
			if err := appendCell(bld.Field(i), v); err != nil {
				return nil, errors.Wrapf(err, "column '%v'", n)
			}
		}
	}

	rec := bld.NewRecord()
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.Record{rec}), nil
}

// ReadParquet loads a Parquet file into a Frame via Arrow.
func ReadParquet(path string) (*Frame, error) {
	tbl, err := parquet.ReadTable(path)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return FromArrow(tbl)
}

// WriteParquet writes the Frame to a Parquet file via Arrow.
func (f *Frame) WriteParquet(path string) error {
	tbl, err := f.ToArrow()
	if err != nil {
		return err
	}
	defer tbl.Release()
	return parquet.WriteTable(path, tbl)
}

var tsType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

func columnType(col []interface{}) (arrow.DataType, error) {
	for _, v := range col {
		switch v.(type) {
		case nil:
			continue
		case bool:
			return arrow.FixedWidthTypes.Boolean, nil
		case int64:
			return arrow.PrimitiveTypes.Int64, nil
		case float64:
			return arrow.PrimitiveTypes.Float64, nil
		case string:
			return arrow.BinaryTypes.String, nil
		case time.Time:
			return tsType, nil
		default:
			return nil, errors.Errorf("unsupported cell %#v", v)
		}
	}
	return arrow.BinaryTypes.String, nil
}

func appendCell(b array.Builder, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		bld.Append(v.(bool))
	case *array.Int64Builder:
		bld.Append(v.(int64))
	case *array.Float64Builder:
		bld.Append(v.(float64))
	case *array.StringBuilder:
		bld.Append(v.(string))
	case *array.TimestampBuilder:
		bld.Append(arrow.Timestamp(v.(time.Time).UTC().UnixMicro()))
	default:
		return errors.Errorf("unsupported builder %T", b)
	}
	return nil
}

func cell(a arrow.Array, i int) (interface{}, error) {
	if a.IsNull(i) {
		return nil, nil
	}
	switch arr := a.(type) {
	case *array.Boolean:
		return arr.Value(i), nil
	case *array.Int32:
		return int64(arr.Value(i)), nil
	case *array.Int64:
		return arr.Value(i), nil
	case *array.Float64:
		return arr.Value(i), nil
	case *array.String:
		return arr.Value(i), nil
	case *array.Timestamp:
		dt := arr.DataType().(*arrow.TimestampType)
		return arr.Value(i).ToTime(dt.Unit).UTC(), nil
	case *array.Date32:
		return arr.Value(i).ToTime().UTC(), nil
	default:
		return nil, errors.Errorf("unsupported array type %T", a)
	}
}
