// Package all imports every registry implementation.
//
// Import this package for its side effects to register all access tiers:
//
//	import (
//		"github.com/git-pkgs/semverx"
//		_ "github.com/git-pkgs/semverx/all"
//	)
//
//	// Now every tier is available
//	tiers := semverx.SupportedTiers()
//	// ["live", "local", "remote"]
package all

import (
	_ "github.com/git-pkgs/semverx/internal/remote"
)
