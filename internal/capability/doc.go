// Package capability maps vendor payload fragments onto a stable,
// driver-facing capability namespace.
//
// Each module type tag (NAMain, NAModule1, NATherm1, ...) owns an ordered
// list of Descriptors. A descriptor names the capability, the dotted path
// of its value inside the module payload, and the value kind:
//
//	r := capability.Default()
//	for _, d := range r.ForType(capability.TypeStation) {
//	    if v, ok := d.Extract(payload); ok {
//	        fmt.Println(d.ID, v)
//	    }
//	}
//
// Extraction is pure. Missing fields report not found and are never
// replaced by zero values. Unknown type tags map to no capabilities.
package capability
