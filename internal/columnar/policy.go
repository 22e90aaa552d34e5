// Package columnar turns decoded value trees into Arrow record batches.
// A Plan is computed once per topic from the derived schema and the
// flattening policy; building rows afterwards is mechanical.
package columnar

import "fmt"

// ListPolicy controls variable-length sequences.
type ListPolicy uint8

const (
	ListDrop ListPolicy = iota
	ListKeep
	// ListFlattenFixed expands each list into exactly Policy.ListFlattenSize
	// scalar columns. A row whose list has any other length fails the
	// conversion.
	ListFlattenFixed
)

// ArrayPolicy controls fixed-size arrays, whose length is known from the
// schema.
type ArrayPolicy uint8

const (
	ArrayDrop ArrayPolicy = iota
	ArrayKeep
	ArrayFlatten
)

// MapPolicy controls map-typed fields.
type MapPolicy uint8

const (
	MapDrop MapPolicy = iota
	MapKeep
)

// StructPolicy controls nested structs. It is fixed by the output format
// rather than user-selectable: row-oriented JSON keeps nesting, flat
// formats splice child columns in.
type StructPolicy uint8

const (
	StructKeep StructPolicy = iota
	StructFlatten
)

// Policy is the complete flattening configuration for one conversion.
type Policy struct {
	Lists           ListPolicy
	Arrays          ArrayPolicy
	Maps            MapPolicy
	Structs         StructPolicy
	ListFlattenSize int
}

// DefaultPolicy returns the policy matrix for an output format: jsonl
// preserves everything nested, csv drops what it cannot represent, parquet
// keeps nested data but flattens structs into dotted column names.
func DefaultPolicy(format string) (Policy, error) {
	switch format {
	case "jsonl":
		return Policy{Lists: ListKeep, Arrays: ArrayKeep, Maps: MapKeep, Structs: StructKeep}, nil
	case "csv":
		return Policy{Lists: ListDrop, Arrays: ArrayDrop, Maps: MapDrop, Structs: StructFlatten}, nil
	case "parquet":
		return Policy{Lists: ListKeep, Arrays: ArrayKeep, Maps: MapKeep, Structs: StructFlatten}, nil
	default:
		return Policy{}, fmt.Errorf("unknown output format %q", format)
	}
}

// Validate catches configurations that cannot run: flatten-fixed without a
// size, or a size given with a policy that will never use it.
func (p Policy) Validate() error {
	if p.Lists == ListFlattenFixed && p.ListFlattenSize <= 0 {
		return fmt.Errorf("list policy flatten-fixed requires a positive --list-flatten-size")
	}
	if p.Lists != ListFlattenFixed && p.ListFlattenSize != 0 {
		return fmt.Errorf("--list-flatten-size only applies to the flatten-fixed list policy")
	}
	return nil
}

func ParseListPolicy(s string) (ListPolicy, error) {
	switch s {
	case "drop":
		return ListDrop, nil
	case "keep":
		return ListKeep, nil
	case "flatten-fixed":
		return ListFlattenFixed, nil
	default:
		return 0, fmt.Errorf("unknown list policy %q (drop, keep, flatten-fixed)", s)
	}
}

func ParseArrayPolicy(s string) (ArrayPolicy, error) {
	switch s {
	case "drop":
		return ArrayDrop, nil
	case "keep":
		return ArrayKeep, nil
	case "flatten":
		return ArrayFlatten, nil
	default:
		return 0, fmt.Errorf("unknown array policy %q (drop, keep, flatten)", s)
	}
}

func ParseMapPolicy(s string) (MapPolicy, error) {
	switch s {
	case "drop":
		return MapDrop, nil
	case "keep":
		return MapKeep, nil
	default:
		return 0, fmt.Errorf("unknown map policy %q (drop, keep)", s)
	}
}
