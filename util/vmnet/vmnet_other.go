//go:build !linux && !(darwin && cgo)

package vmnet

func NewFramework() (Framework, error) {
	return nil, ErrUnsupported
}
