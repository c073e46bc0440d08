package spawn

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// AgentFileOwnership names the glob patterns an agent intends to write
// during a parallel spawn.
type AgentFileOwnership struct {
	AgentName     string
	FileOwnership []string
}

// Conflict names two agents whose file ownership overlaps.
type Conflict struct {
	Agent1           string
	Agent2           string
	ConflictingPaths []string
}

// sharedPathAllowlist lists patterns excluded from conflict detection:
// type definitions, shared utility dirs, and config files every agent may
// legitimately touch without contending for exclusive ownership.
var sharedPathAllowlist = []string{
	"**/types/**",
	"**/*.d.ts",
	"**/utils/**",
	"**/shared/**",
	"package.json",
	"package-lock.json",
	"tsconfig.json",
	"**/.env.example",
}

// defaultFileOwnership is used for an agent role when the caller supplies
// an empty FileOwnership list.
var defaultFileOwnership = map[string][]string{
	"Frontend Developer": {"src/frontend/**", "src/components/**", "src/pages/**"},
	"Backend Developer":  {"src/backend/**", "src/api/**", "src/services/**"},
	"ML Engineer":        {"src/ml/**", "models/**"},
	"Prompt Engineer":    {"prompts/**"},
	"QA Engineer":        {"tests/**", "**/*_test.go", "**/*.test.ts"},
	"Model Evaluator":    {"eval/**"},
	"Security & Privacy Engineer": {"security/**"},
	"DevOps Engineer":    {"deploy/**", "infra/**", ".github/workflows/**"},
	"AIOps Engineer":     {"ops/ml/**"},
	"UX/UI Designer":     {"design/**", "src/styles/**"},
	"Architect":          {"docs/architecture/**"},
	"Product Manager":    {"docs/product/**"},
}

// CheckParallelSpawnConflicts reports whether the given agents can be
// spawned in parallel without contending over the same files. Conflicts
// are found by glob-pattern overlap: two patterns overlap if either one
// could match a path under the other's base directory, or if they share
// the same literal base directory. Shared paths and empty-ownership
// defaults are applied before comparison.
func CheckParallelSpawnConflicts(agents []AgentFileOwnership) (bool, []Conflict) {
	resolved := make([]AgentFileOwnership, len(agents))
	for i, a := range agents {
		patterns := a.FileOwnership
		if len(patterns) == 0 {
			patterns = defaultFileOwnership[a.AgentName]
		}
		resolved[i] = AgentFileOwnership{AgentName: a.AgentName, FileOwnership: patterns}
	}

	var conflicts []Conflict
	for i := 0; i < len(resolved); i++ {
		for j := i + 1; j < len(resolved); j++ {
			paths := overlappingPaths(resolved[i].FileOwnership, resolved[j].FileOwnership)
			if len(paths) > 0 {
				conflicts = append(conflicts, Conflict{
					Agent1: resolved[i].AgentName, Agent2: resolved[j].AgentName, ConflictingPaths: paths,
				})
			}
		}
	}
	return len(conflicts) == 0, conflicts
}

func overlappingPaths(a, b []string) []string {
	var overlaps []string
	for _, pa := range a {
		if isSharedPath(pa) {
			continue
		}
		for _, pb := range b {
			if isSharedPath(pb) {
				continue
			}
			if patternsOverlap(pa, pb) {
				overlaps = append(overlaps, pa)
			}
		}
	}
	return overlaps
}

func isSharedPath(pattern string) bool {
	for _, allowed := range sharedPathAllowlist {
		if pattern == allowed {
			return true
		}
		if ok, _ := doublestar.Match(allowed, pattern); ok {
			return true
		}
	}
	return false
}

// patternsOverlap reports whether two glob patterns could ever match the
// same path. Two unresolved patterns are compared by base-directory
// containment in either direction (one pattern's base is a prefix of the
// other's), falling back to a direct cross-match of each pattern's static
// (non-glob) prefix against the other.
func patternsOverlap(pa, pb string) bool {
	baseA, _ := doublestar.SplitPattern(pa)
	baseB, _ := doublestar.SplitPattern(pb)
	baseA = strings.TrimSuffix(baseA, "/")
	baseB = strings.TrimSuffix(baseB, "/")

	if baseA == baseB {
		return true
	}
	if strings.HasPrefix(baseA, baseB+"/") || strings.HasPrefix(baseB, baseA+"/") {
		return true
	}
	if ok, _ := doublestar.Match(pa, baseB); ok {
		return true
	}
	if ok, _ := doublestar.Match(pb, baseA); ok {
		return true
	}
	return false
}
