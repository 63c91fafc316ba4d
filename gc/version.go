package gc

// Version information for the collector engine.
const (
	// Version is the current version of the engine.
	Version = "0.3.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 3

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides build information about the engine.
type Info struct {
	// Version is the engine version string.
	Version string

	// Collectors names the collection algorithms.
	Collectors []string

	// Parallel indicates whether collections run on worker gangs.
	Parallel bool
}

// GetInfo returns information about the engine.
//
// Example:
//
//	info := gc.GetInfo()
//	fmt.Printf("gcengine %s %v\n", info.Version, info.Collectors)
func GetInfo() Info {
	return Info{
		Version:    Version,
		Collectors: []string{"young: parallel copying", "full: parallel mark-compact"},
		Parallel:   true,
	}
}
