//go:build debug_mem_utils

package memutils

const (
	// ProvenanceChecks indicates whether regions handed back to an allocator are checked against the
	// set of regions that allocator actually handed out. Mismatches are treated as assertion failures.
	ProvenanceChecks bool = true

	// CreatedFillPattern is written across freshly allocated regions when FillPattern is active
	CreatedFillPattern uint8 = 0xDC
	// DestroyedFillPattern is written across regions just before they are handed back to the heap
	DestroyedFillPattern uint8 = 0xEF
)

// FillPattern writes pattern across every byte of data, to make uninitialized reads and
// use-after-release easy to spot. This method no-ops unless the debug_mem_utils build tag is present.
func FillPattern(data []byte, pattern uint8) {
	for i := range data {
		data[i] = pattern
	}
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
