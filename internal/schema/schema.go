// Package schema provides the object class and field lookup service used
// by the gateway: classes by id or name, fields by their global number,
// and packing/unpacking of typed field values in wire order.
package schema

import (
	"fmt"

	"github.com/openotp/gateway/internal/wire"
)

// Field value types.
const (
	TypeUint8  = "uint8"
	TypeUint16 = "uint16"
	TypeUint32 = "uint32"
	TypeUint64 = "uint64"
	TypeInt32  = "int32"
	TypeString = "string"
	TypeBlob   = "blob"
)

// Field keywords controlling replication and storage.
const (
	KeywordRequired   = "required"  // always replicated on object creation
	KeywordPersisted  = "db"        // durably stored by the persistence service
	KeywordBroadcast  = "broadcast" // replicated to zone observers on update
	KeywordOwnRecv    = "ownrecv"   // replicated to the owning session
	KeywordClientSend = "clsend"    // owners may send updates from the client
)

// Field is one declared field of a class. Composite fields group other
// fields and carry no wire value of their own.
type Field struct {
	// Number is the field's global identifier, unique across the schema.
	Number uint16
	// Name is the declared field name.
	Name string
	// Class is the owning class.
	Class *Class
	// Type is the wire value type; empty for composite fields.
	Type string
	// Keywords holds the declared keyword set.
	Keywords []string
	// Components names the grouped fields when the field is composite.
	Components []string
}

// HasKeyword reports whether kw appears in the field's keyword set.
func (f *Field) HasKeyword(kw string) bool {
	for _, k := range f.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}

// Required reports whether the field is replicated on every object
// creation.
func (f *Field) Required() bool { return f.HasKeyword(KeywordRequired) }

// Persisted reports whether the field is durably stored.
func (f *Field) Persisted() bool { return f.HasKeyword(KeywordPersisted) }

// Composite reports whether the field groups other fields and therefore
// never carries a packed value itself.
func (f *Field) Composite() bool { return len(f.Components) > 0 }

// Default returns the packed zero value for the field's type.
//
// Precondition: the field must not be composite.
func (f *Field) Default() []byte {
	switch f.Type {
	case TypeUint8:
		return []byte{0}
	case TypeUint16:
		return []byte{0, 0}
	case TypeUint32, TypeInt32:
		return []byte{0, 0, 0, 0}
	case TypeUint64:
		return []byte{0, 0, 0, 0, 0, 0, 0, 0}
	case TypeString, TypeBlob:
		return []byte{0, 0}
	}
	return nil
}

// Unpack consumes one value of the field's type from it and returns the
// raw packed bytes. Truncated or malformed input is reported as an error,
// never a panic.
func (f *Field) Unpack(it *wire.Iterator) ([]byte, error) {
	if f.Composite() {
		return nil, fmt.Errorf("field %s is composite and carries no value", f.Name)
	}
	start := it.Tell()
	switch f.Type {
	case TypeUint8:
		if _, err := it.ReadUint8(); err != nil {
			return nil, fmt.Errorf("unpacking %s: %w", f.Name, err)
		}
	case TypeUint16:
		if _, err := it.ReadUint16(); err != nil {
			return nil, fmt.Errorf("unpacking %s: %w", f.Name, err)
		}
	case TypeUint32, TypeInt32:
		if _, err := it.ReadUint32(); err != nil {
			return nil, fmt.Errorf("unpacking %s: %w", f.Name, err)
		}
	case TypeUint64:
		if _, err := it.ReadUint64(); err != nil {
			return nil, fmt.Errorf("unpacking %s: %w", f.Name, err)
		}
	case TypeString, TypeBlob:
		if _, err := it.ReadBlob(); err != nil {
			return nil, fmt.Errorf("unpacking %s: %w", f.Name, err)
		}
	default:
		return nil, fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
	}
	end := it.Tell()
	it.Seek(start)
	raw, err := it.ReadBytes(end - start)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// PackString returns the packed form of a string value for the field.
//
// Precondition: the field's type must be string or blob.
func (f *Field) PackString(s string) []byte {
	dg := wire.NewDatagram()
	dg.AddString(s)
	return dg.Bytes()
}

// Class is one declared object class.
type Class struct {
	// ID is the class's schema-assigned identifier.
	ID uint16
	// Name is the declared class name.
	Name string
	// Fields holds the class's fields in declaration order.
	Fields []*Field

	byName map[string]*Field
}

// FieldByName returns the named field, or nil if the class does not
// declare it.
func (c *Class) FieldByName(name string) *Field {
	return c.byName[name]
}

// RequiredFields returns the class's required fields in declaration
// order, composites included.
func (c *Class) RequiredFields() []*Field {
	var out []*Field
	for _, f := range c.Fields {
		if f.Required() {
			out = append(out, f)
		}
	}
	return out
}

// File is a parsed schema: the full class list plus the global field
// index. Immutable after loading; safe for concurrent lookups.
type File struct {
	classes []*Class
	byName  map[string]*Class
	fields  map[uint16]*Field
}

// ClassByID returns the class with the given id, or nil.
func (s *File) ClassByID(id uint16) *Class {
	if int(id) >= len(s.classes) {
		return nil
	}
	return s.classes[id]
}

// ClassByName returns the named class, or nil.
func (s *File) ClassByName(name string) *Class {
	return s.byName[name]
}

// FieldByNumber returns the field with the given global number, or nil.
func (s *File) FieldByNumber(number uint16) *Field {
	return s.fields[number]
}

// Classes returns all classes in declaration order.
func (s *File) Classes() []*Class {
	return s.classes
}
