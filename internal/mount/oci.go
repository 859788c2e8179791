package mount

import (
	"path"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ExtraMountRoot is where validated mounts appear inside the container.
const ExtraMountRoot = "/workspace/extra"

// ToOCI converts validated mounts to OCI bind mounts.
func ToOCI(mounts []Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		mode := "ro"
		if m.ReadWrite {
			mode = "rw"
		}
		out = append(out, specs.Mount{
			Destination: path.Join(ExtraMountRoot, m.ContainerPath),
			Type:        "bind",
			Source:      m.HostPath,
			Options:     []string{"rbind", mode},
		})
	}
	return out
}
