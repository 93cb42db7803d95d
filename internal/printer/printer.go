package printer

import "github.com/slok/microbox/internal/model"

// Printer knows how to print microbox information in different formats.
type Printer interface {
	PrintVMList(vms []model.VM) error
	// PrintVM prints the detail of a VM and its lifecycle journal.
	PrintVM(vm model.VM, events []model.VMEvent) error
	PrintImageList(images []model.Image) error
	PrintCacheList(entries []model.CacheEntry) error
	PrintMessage(msg string) error
}
