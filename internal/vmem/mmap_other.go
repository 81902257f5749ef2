//go:build !linux && !darwin

package vmem

// newMmap is unavailable without an anonymous PROT_NONE mapping; use KindGo.
func newMmap() (Backend, error) {
	return nil, ErrUnsupported
}
