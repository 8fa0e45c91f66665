package provider

import (
	"github.com/rs/zerolog"

	"github.com/prismsec/veritas/pkg/audit"
)

// Strong fronts an optional platform security module. Every primitive
// attempts the module first and falls through to the standard path on
// any failure. The fallback decision is local to each call: a device
// stays enabled overall while individual primitives quietly take the
// software path.
type Strong struct {
	module Module
	std    *Standard
	logger zerolog.Logger
}

func NewStrong(module Module, std *Standard, logger zerolog.Logger) *Strong {
	return &Strong{
		module: module,
		std:    std,
		logger: logger.With().Str("component", "provider").Logger(),
	}
}

func (s *Strong) Enabled() bool {
	return s.module != nil && s.module.Enabled()
}

func (s *Strong) SecurityLevel() Level {
	if s.Enabled() && s.HardwareBacked() && !s.Compromised() {
		return LevelHigh
	}
	return s.std.SecurityLevel()
}

func (s *Strong) Compromised() bool    { return s.std.Compromised() }
func (s *Strong) HardwareBacked() bool { return s.std.HardwareBacked() }

func (s *Strong) Encrypt(plaintext []byte) (string, error) {
	if s.module != nil {
		if out, err := s.module.Encrypt(plaintext); err == nil {
			return out, nil
		} else {
			s.fellBack("encrypt", err)
		}
	}
	return s.std.Encrypt(plaintext)
}

func (s *Strong) Decrypt(ciphertext string) ([]byte, error) {
	if s.module != nil {
		if out, err := s.module.Decrypt(ciphertext); err == nil {
			return out, nil
		} else {
			s.fellBack("decrypt", err)
		}
	}
	return s.std.Decrypt(ciphertext)
}

func (s *Strong) Sign(data []byte) (string, error) {
	if s.module != nil {
		if out, err := s.module.Sign(data); err == nil {
			return out, nil
		} else {
			s.fellBack("sign", err)
		}
	}
	return s.std.Sign(data)
}

func (s *Strong) Verify(data []byte, signature string) bool {
	if s.module != nil {
		if ok, err := s.module.Verify(data, signature); err == nil {
			return ok
		} else {
			s.fellBack("verify", err)
		}
	}
	return s.std.Verify(data, signature)
}

func (s *Strong) DeviceID() string {
	if s.module != nil {
		if id, err := s.module.DeviceID(); err == nil && id != "" {
			return id
		}
	}
	return s.std.DeviceID()
}

func (s *Strong) Fingerprint() string { return s.std.Fingerprint() }

func (s *Strong) AuditAppend(action string, details map[string]any) bool {
	return s.std.AuditAppend(action, details)
}

func (s *Strong) AuditRead(limit int) []audit.Entry {
	return s.std.AuditRead(limit)
}

func (s *Strong) fellBack(op string, err error) {
	s.logger.Warn().Err(err).Str("op", op).Str("path", string(PathStandard)).
		Msg("Strong module call failed, using standard path")
}

var _ Provider = (*Strong)(nil)
