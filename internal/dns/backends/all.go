// Package backends imports all DNS backend packages to trigger their init() registration.
package backends

import (
	_ "github.com/yuriy-kovalchuk/yk-tailsync/internal/dns/opnsense"
	_ "github.com/yuriy-kovalchuk/yk-tailsync/internal/dns/pihole"
)
