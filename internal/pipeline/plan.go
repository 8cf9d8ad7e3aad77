package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// GlobalLayer names the contour layer fetched for every non-excluded region.
const GlobalLayer = "global"

// LayerJob is one contour layer to produce and partition.
type LayerJob struct {
	Name      string
	Regions   []string // requested from the wind server
	LayerPath string   // contour command destination
	Template  string   // per-boundary artifact path template
	Filter    domain.RegionFilter
	Global    bool
}

// PlanLayers lays out the global layer followed by one layer per excluded
// region, in the order given.
func PlanLayers(opts Options) []LayerJob {
	template := ArtifactTemplate(opts.OutputDir)
	global := domain.ExcludeRegions(opts.Regions, opts.ExcludedRegions)

	jobs := make([]LayerJob, 0, 1+len(opts.ExcludedRegions))
	if len(global) > 0 {
		jobs = append(jobs, LayerJob{
			Name:      GlobalLayer,
			Regions:   global,
			LayerPath: filepath.Join(opts.OutputDir, GlobalLayer+"_wind_speed_plot.json"),
			Template:  template,
			Filter:    domain.NewRegionFilter(global...),
			Global:    true,
		})
	}
	for _, r := range opts.ExcludedRegions {
		r = strings.ToLower(r)
		jobs = append(jobs, LayerJob{
			Name:      r,
			Regions:   []string{r},
			LayerPath: filepath.Join(opts.OutputDir, strings.ToUpper(r)+"_wind_speed_plot.json"),
			Template:  template,
			Filter:    domain.NewRegionFilter(r),
		})
	}
	return jobs
}

// ArtifactTemplate returns the per-boundary artifact path template under outDir.
func ArtifactTemplate(outDir string) string {
	return filepath.Join(outDir, "state", domain.PathPlaceholder+"_wind_speed_plot.json")
}
