package config

import (
	"os"
	"strings"
	"sync"
)

// Master-admin access is an explicit configuration value parsed once at
// startup from MASTER_ADMIN_EMAILS (comma-separated). There is no runtime
// mutation path; IsMasterAdmin is a pure lookup.

var (
	adminOnce sync.Once
	adminSet  map[string]struct{}
)

func loadAdminAllowlist() {
	adminSet = map[string]struct{}{}
	raw := os.Getenv("MASTER_ADMIN_EMAILS")
	for _, part := range strings.Split(raw, ",") {
		email := strings.ToLower(strings.TrimSpace(part))
		if email != "" {
			adminSet[email] = struct{}{}
		}
	}
}

func IsMasterAdmin(email string) bool {
	adminOnce.Do(loadAdminAllowlist)
	_, ok := adminSet[strings.ToLower(strings.TrimSpace(email))]
	return ok
}
