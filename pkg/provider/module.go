package provider

import "sync"

// Module is the opaque strong security capability. Absence is normal
// and must be detectable without error-driven control flow: integrators
// register a factory, and DetectModule probes it. This package never
// implements the module itself.
type Module interface {
	Enabled() bool
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
	Sign(data []byte) (string, error)
	Verify(data []byte, signature string) (bool, error)
	DeviceID() (string, error)
}

var (
	moduleMu      sync.Mutex
	moduleFactory func() Module
)

// RegisterModule installs the platform-specific factory. Typically
// called from an init function in a build-tagged integration package.
func RegisterModule(factory func() Module) {
	moduleMu.Lock()
	defer moduleMu.Unlock()
	moduleFactory = factory
}

// DetectModule probes for a registered strong module. It returns nil
// when the capability is absent; callers treat nil as "standard path
// only", not as an error.
func DetectModule() Module {
	moduleMu.Lock()
	factory := moduleFactory
	moduleMu.Unlock()
	if factory == nil {
		return nil
	}
	return factory()
}
