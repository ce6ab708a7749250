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

// Package parquet reads and writes Parquet files through Apache Arrow. The
// row-oriented half (WriteRows/ReadRows) is the codec for the raw store,
// where records are JSON-shaped maps and the schema is whatever the upstream
// API returned. The Arrow-table half (WriteTable/ReadTable) is shared by the
// downstream stages, which hand whole columnar tables around without
// re-encoding them.
package parquet

import (
	"context"
	"os"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/pkg/errors"
)

// Pool is the Go memory allocator used for all Arrow allocations.
var Pool = memory.NewGoAllocator()

// WriteTable writes an Arrow table to a snappy-compressed Parquet file,
// creating or truncating path.
func WriteTable(path string, tbl arrow.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating parquet file")
	}
	defer f.Close()

	chunk := tbl.NumRows()
	if chunk == 0 {
		chunk = 1
	}
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	err = pqarrow.WriteTable(tbl, f, chunk, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return errors.Wrap(err, "writing parquet table")
	}
	return errors.Wrap(f.Close(), "closing parquet file")
}

// ReadTable reads a Parquet file into an Arrow table. The caller must Release
// the returned table.
func ReadTable(path string) (arrow.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening parquet file")
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(context.Background(), f,
		parquet.NewReaderProperties(Pool), pqarrow.ArrowReadProperties{}, Pool)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parquet table '%v'", path)
	}
	return tbl, nil
}

// WriteRows writes JSON-shaped records to a Parquet file. The schema is
// inferred as the union of keys across all rows, columns sorted by name, all
// nullable. JSON scalars keep their decoded Go types: numbers are float64,
// so a column of GitHub ids lands as DOUBLE and is cast to BIGINT downstream.
// A row missing a key (or holding nil) produces a null cell, which is what
// lets old rows survive when the upstream schema grows a new field.
func WriteRows(path string, rows []map[string]interface{}) error {
	schema, err := inferSchema(rows)
	if err != nil {
		return err
	}

	bld := array.NewRecordBuilder(Pool, schema)
	defer bld.Release()

	for _, row := range rows {
		for i, field := range schema.Fields() {
			if err := appendCell(bld.Field(i), field, row[field.Name]); err != nil {
				return err
			}
		}
	}

	rec := bld.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	return WriteTable(path, tbl)
}

// ReadRows reads a Parquet file written by WriteRows back into JSON-shaped
// records. Null cells come back as nil values under their key.
func ReadRows(path string) ([]map[string]interface{}, error) {
	tbl, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	rows := make([]map[string]interface{}, tbl.NumRows())
	for i := range rows {
		rows[i] = make(map[string]interface{}, tbl.NumCols())
	}

	for j := 0; j < int(tbl.NumCols()); j++ {
		name := tbl.Schema().Field(j).Name
		row := 0
		for _, chunk := range tbl.Column(j).Data().Chunks() {
			for k := 0; k < chunk.Len(); k++ {
				v, err := cellValue(chunk, k)
				if err != nil {
					return nil, errors.Wrapf(err, "column '%v'", name)
				}
				rows[row][name] = v
				row++
			}
		}
	}
	return rows, nil
}

func inferSchema(rows []map[string]interface{}) (*arrow.Schema, error) {
	types := make(map[string]arrow.DataType)
	for _, row := range rows {
		for k, v := range row {
			if v == nil {
				if _, ok := types[k]; !ok {
					types[k] = nil // column seen, type unknown so far
				}
				continue
			}
			var dt arrow.DataType
			switch v.(type) {
			case bool:
				dt = arrow.FixedWidthTypes.Boolean
			case float64:
				dt = arrow.PrimitiveTypes.Float64
			case int64:
				dt = arrow.PrimitiveTypes.Int64
			case string:
				dt = arrow.BinaryTypes.String
			default:
				return nil, errors.Errorf("unsupported value %#v for column '%v'", v, k)
			}
			if prev, ok := types[k]; ok && prev != nil && prev.ID() != dt.ID() {
				return nil, errors.Errorf("column '%v' holds both %v and %v", k, prev, dt)
			}
			types[k] = dt
		}
	}

	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		dt := types[name]
		if dt == nil {
			// every value was null; string is the widest safe choice
			dt = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

func appendCell(b array.Builder, field arrow.Field, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		val, ok := v.(bool)
		if !ok {
			return errors.Errorf("column '%v': expected bool, got %#v", field.Name, v)
		}
		bld.Append(val)
	case *array.Float64Builder:
		val, ok := v.(float64)
		if !ok {
			return errors.Errorf("column '%v': expected float64, got %#v", field.Name, v)
		}
		bld.Append(val)
	case *array.Int64Builder:
		val, ok := v.(int64)
		if !ok {
			return errors.Errorf("column '%v': expected int64, got %#v", field.Name, v)
		}
		bld.Append(val)
	case *array.StringBuilder:
		val, ok := v.(string)
		if !ok {
			return errors.Errorf("column '%v': expected string, got %#v", field.Name, v)
		}
		bld.Append(val)
	default:
		return errors.Errorf("column '%v': unsupported builder %T", field.Name, b)
	}
	return nil
}

func cellValue(a arrow.Array, i int) (interface{}, error) {
	if a.IsNull(i) {
		return nil, nil
	}
	switch arr := a.(type) {
	case *array.Boolean:
		return arr.Value(i), nil
	case *array.Float64:
		return arr.Value(i), nil
	case *array.Int32:
		return int64(arr.Value(i)), nil
	case *array.Int64:
		return arr.Value(i), nil
	case *array.String:
		return arr.Value(i), nil
	case *array.Timestamp:
		dt := arr.DataType().(*arrow.TimestampType)
		return arr.Value(i).ToTime(dt.Unit).UTC(), nil
	default:
		return nil, errors.Errorf("unsupported array type %T", a)
	}
}
