package tagmem

import (
	"fmt"
	"sync"
)

// Category is an opaque tag attached to every allocation. It is used for attribution in statistics
// and reports and never affects how memory is obtained.
type Category uint32

const (
	CategoryUnknown Category = iota
	CategoryGeneral
	CategoryTryGeneral
	CategoryZeroed
	CategoryRealloc
	CategoryTryRealloc
	CategoryString
	CategoryDOM
	CategoryRenderTree
	CategoryMemoryOut
)

var categoryMapping = struct {
	sync.RWMutex
	names map[Category]string
}{names: make(map[Category]string)}

// RegisterCategory attaches a display name to a category. Registering the same category again
// replaces its name.
func RegisterCategory(category Category, name string) {
	categoryMapping.Lock()
	defer categoryMapping.Unlock()

	categoryMapping.names[category] = name
}

// LookupCategory finds a category by its registered name
func LookupCategory(name string) (Category, bool) {
	categoryMapping.RLock()
	defer categoryMapping.RUnlock()

	for category, registered := range categoryMapping.names {
		if registered == name {
			return category, true
		}
	}
	return 0, false
}

func (c Category) String() string {
	categoryMapping.RLock()
	defer categoryMapping.RUnlock()

	str, ok := categoryMapping.names[c]
	if !ok {
		return fmt.Sprintf("Category(0x%x)", uint32(c))
	}
	return str
}

func init() {
	RegisterCategory(CategoryUnknown, "Unknown")
	RegisterCategory(CategoryGeneral, "General")
	RegisterCategory(CategoryTryGeneral, "TryGeneral")
	RegisterCategory(CategoryZeroed, "Zeroed")
	RegisterCategory(CategoryRealloc, "Realloc")
	RegisterCategory(CategoryTryRealloc, "TryRealloc")
	RegisterCategory(CategoryString, "String")
	RegisterCategory(CategoryDOM, "DOM")
	RegisterCategory(CategoryRenderTree, "RenderTree")
	RegisterCategory(CategoryMemoryOut, "MemoryOut")
}
