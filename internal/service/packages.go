package service

import (
	"errors"

	"imebridge/internal/store"
)

// packageName resolves the package owning uid through the cache first and
// the host second. Names learned from the host are written back.
func (s *Service) packageName(uid int) string {
	if s.packages != nil {
		name, err := s.packages.Lookup(uid)
		if err == nil {
			return name
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("package cache lookup", "uid", uid, "error", err)
		}
	}

	name, ok := s.host.PackageName(uid)
	if !ok {
		s.logger.Debug("unknown package", "uid", uid)
		return ""
	}
	if s.packages != nil {
		if err := s.packages.Put(uid, name); err != nil {
			s.logger.Warn("package cache write", "uid", uid, "error", err)
		}
	}
	return name
}
