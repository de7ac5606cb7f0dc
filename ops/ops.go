// Package ops is the published CLI-facing contract (§6.5): one Go
// entry point per command row, including the flag validation and
// error-kind classification the table specifies, so a front-end can be
// a thin wrapper with no semantics of its own.
package ops

import (
	"github.com/mjpitz/metarepo/fetch"
	"github.com/mjpitz/metarepo/git"
	"github.com/mjpitz/metarepo/merge"
)

// HeadRef is the reference entry points read and advance.
const HeadRef = "HEAD"

// Config bundles the collaborators every ops entry point needs: the
// meta-repository handle, the commit signature to stamp onto commits
// it creates, the sequencer's on-disk location, and the merge engine's
// sub-repository collaborators. A front-end builds one Config per
// invocation from its CWD-discovered repository and flags (per spec.md
// §9: CWD discovery belongs to the CLI collaborator, not the core).
type Config struct {
	Repo      git.Repository
	Signature git.Signature
	SeqPath   string

	Registries merge.RegistryReader
	Resolver   merge.SubRepoResolver
	Policy     merge.OpenPolicy

	Fetcher *fetch.Fetcher

	// OpenRepos maps sub-repository name to its opened git.Repository,
	// for Status and the clean-tree check of merge/rebase/cherry-pick/
	// checkout, which recurse into open sub-repositories. A name absent
	// from the map is closed.
	OpenRepos map[string]git.Repository
}
