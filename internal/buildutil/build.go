// Package buildutil reads and writes compiled chunk images, so a script
// can be compiled once with `ember build` and executed later with
// `ember exec` without reparsing.
package buildutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"ember/internal/memory"
	"ember/internal/object"
	"ember/internal/value"
)

const (
	ImageVersion = 1
	MagicNumber  = 0x454D4252 // "EMBR"
)

// constant tags in the serialized pool
const (
	constNil = iota
	constBool
	constNumber
	constString
	constFunction
)

// ConstRecord is one serialized constant-pool entry.
type ConstRecord struct {
	Tag    int       `msgpack:"t"`
	Bool   bool      `msgpack:"b,omitempty"`
	Number float64   `msgpack:"n,omitempty"`
	Str    string    `msgpack:"s,omitempty"`
	Fn     *FnRecord `msgpack:"f,omitempty"`
}

// FnRecord is a serialized function: its chunk plus call metadata.
type FnRecord struct {
	Name         string        `msgpack:"name"`
	Arity        int           `msgpack:"arity"`
	UpvalueCount int           `msgpack:"upvalues"`
	Code         []byte        `msgpack:"code"`
	Lines        []int         `msgpack:"lines"`
	Constants    []ConstRecord `msgpack:"constants"`
}

// Image is the on-disk payload following the magic/version header.
type Image struct {
	Version int      `msgpack:"version"`
	Script  FnRecord `msgpack:"script"`
}

func recordFunction(fn *object.Function) (FnRecord, error) {
	name := ""
	if fn.Name != nil {
		name = fn.Name.Str
	}
	rec := FnRecord{
		Name:         name,
		Arity:        fn.Arity,
		UpvalueCount: fn.UpvalueCount,
		Code:         fn.Chunk.Code,
		Lines:        fn.Chunk.Lines,
	}
	for _, c := range fn.Chunk.Constants {
		cr, err := recordConstant(c)
		if err != nil {
			return rec, err
		}
		rec.Constants = append(rec.Constants, cr)
	}
	return rec, nil
}

func recordConstant(v value.Value) (ConstRecord, error) {
	switch {
	case v.IsNil():
		return ConstRecord{Tag: constNil}, nil
	case v.IsBool():
		return ConstRecord{Tag: constBool, Bool: v.AsBool()}, nil
	case v.IsNumber():
		return ConstRecord{Tag: constNumber, Number: v.AsNumber()}, nil
	case v.IsKind(value.KindString):
		return ConstRecord{Tag: constString, Str: v.AsObj().(*object.String).Str}, nil
	case v.IsKind(value.KindFunction):
		fn, err := recordFunction(v.AsObj().(*object.Function))
		if err != nil {
			return ConstRecord{}, err
		}
		return ConstRecord{Tag: constFunction, Fn: &fn}, nil
	default:
		return ConstRecord{}, fmt.Errorf("constant kind %T cannot be serialized", v.AsObj())
	}
}

// WriteImage serializes a compiled script function to w.
func WriteImage(w io.Writer, script *object.Function) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], MagicNumber)
	binary.BigEndian.PutUint32(header[4:8], ImageVersion)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	rec, err := recordFunction(script)
	if err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(Image{Version: ImageVersion, Script: rec})
}

// ReadImage deserializes a chunk image, rebuilding functions and interned
// strings on the given heap.
func ReadImage(r io.Reader, heap *memory.Heap) (*object.Function, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading image header: %w", err)
	}
	if binary.BigEndian.Uint32(header[0:4]) != MagicNumber {
		return nil, fmt.Errorf("not an ember chunk image")
	}
	if v := binary.BigEndian.Uint32(header[4:8]); v != ImageVersion {
		return nil, fmt.Errorf("unsupported image version %d", v)
	}
	var img Image
	if err := msgpack.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return buildFunction(&img.Script, heap)
}

func buildFunction(rec *FnRecord, heap *memory.Heap) (*object.Function, error) {
	fn := heap.NewFunction()
	fn.Arity = rec.Arity
	fn.UpvalueCount = rec.UpvalueCount
	if rec.Name != "" {
		fn.Name = heap.Intern(rec.Name)
	}
	fn.Chunk.Code = append([]byte(nil), rec.Code...)
	fn.Chunk.Lines = append([]int(nil), rec.Lines...)
	if len(fn.Chunk.Code) != len(fn.Chunk.Lines) {
		return nil, fmt.Errorf("corrupt image: %d code bytes, %d line entries",
			len(fn.Chunk.Code), len(fn.Chunk.Lines))
	}
	for i := range rec.Constants {
		v, err := buildConstant(&rec.Constants[i], heap)
		if err != nil {
			return nil, err
		}
		fn.Chunk.Constants = append(fn.Chunk.Constants, v)
	}
	return fn, nil
}

func buildConstant(cr *ConstRecord, heap *memory.Heap) (value.Value, error) {
	switch cr.Tag {
	case constNil:
		return value.Nil(), nil
	case constBool:
		return value.Bool(cr.Bool), nil
	case constNumber:
		return value.Number(cr.Number), nil
	case constString:
		return value.Object(heap.Intern(cr.Str)), nil
	case constFunction:
		fn, err := buildFunction(cr.Fn, heap)
		if err != nil {
			return value.Nil(), err
		}
		return value.Object(fn), nil
	default:
		return value.Nil(), fmt.Errorf("corrupt image: unknown constant tag %d", cr.Tag)
	}
}

// WriteFile writes a chunk image to path.
func WriteFile(path string, script *object.Function) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteImage(f, script)
}

// ReadFile loads a chunk image from path onto heap.
func ReadFile(path string, heap *memory.Heap) (*object.Function, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadImage(f, heap)
}
