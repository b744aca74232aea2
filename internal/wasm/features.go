package wasm

import (
	"fmt"
	"strings"
)

// Features are the currently enabled features.
//
// Note: This is a bit flag until we have too many (>63). Flags are not guaranteed to be stable, so please do not
// serialize them.
type Features uint64

// Features20191205 include those finished in WebAssembly 1.0 (20191205).
//
// Note: This is not guaranteed to be the same as the Configure default.
const Features20191205 = FeatureMutableGlobal

// FeaturesFinished include all supported finished features, regardless of W3C status.
const FeaturesFinished = Features(1<<featureCount - 1)

const (
	// FeatureBulkMemoryOperations decides if parsing should succeed on memory.init, data.drop, memory.copy,
	// memory.fill, table.init, elem.drop and table.copy, plus passive segments and the data count section.
	FeatureBulkMemoryOperations Features = 1 << iota

	// FeatureMultiValue decides if parsing should succeed on the following:
	//  * FunctionType.Results length greater than one.
	//  * Block types referencing a type index, so blocks may have params and more than one result.
	FeatureMultiValue

	// FeatureMutableGlobal decides if global vars are allowed to be imported or exported (ExternTypeGlobal).
	// See https://github.com/WebAssembly/mutable-global
	FeatureMutableGlobal

	// FeatureNonTrappingFloatToIntConversion decides if parsing should succeed on the saturating truncation opcodes
	// (OpcodeMiscPrefix 0x00 to 0x07).
	FeatureNonTrappingFloatToIntConversion

	// FeatureSignExtensionOps decides if parsing should succeed on OpcodeI32Extend8S and friends.
	FeatureSignExtensionOps

	featureCount = iota
)

// Set assigns the value for the given feature.
func (f Features) Set(feature Features, val bool) Features {
	if val {
		return f | feature
	}
	return f &^ feature
}

// Get returns the value of the given feature.
func (f Features) Get(feature Features) bool {
	return f&feature != 0
}

// Require fails with a configuration error if the given feature is not enabled
func (f Features) Require(feature Features) error {
	if f&feature == 0 {
		return fmt.Errorf("feature %q is disabled", feature)
	}
	return nil
}

// String implements fmt.Stringer by returning each enabled feature.
func (f Features) String() string {
	var builder strings.Builder
	for i := 0; i < featureCount; i++ {
		target := Features(1 << i)
		if f.Get(target) {
			if name := featureName(target); name != "" {
				if builder.Len() > 0 {
					builder.WriteByte('|')
				}
				builder.WriteString(name)
			}
		}
	}
	return builder.String()
}

func featureName(f Features) string {
	switch f {
	case FeatureBulkMemoryOperations:
		return "bulk-memory-operations"
	case FeatureMultiValue:
		return "multi-value"
	case FeatureMutableGlobal:
		return "mutable-global"
	case FeatureNonTrappingFloatToIntConversion:
		return "nontrapping-float-to-int-conversion"
	case FeatureSignExtensionOps:
		return "sign-extension-ops"
	}
	return ""
}
