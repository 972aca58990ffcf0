package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/dsmerge/internal/cli/appctx"
	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/ident"
	"github.com/lherron/dsmerge/internal/render"
)

// parseDatasetID accepts "31", "031" or "D031".
func parseDatasetID(s string) (int, error) {
	if strings.HasPrefix(s, "D") {
		n, err := ident.ParseTag(s)
		if err != nil {
			return 0, errs.NewValidationError("dataset_id", s, err.Error())
		}
		return n, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errs.NewValidationError("dataset_id", s, fmt.Sprintf("invalid dataset id %q", s))
	}
	return n, nil
}

func parseDatasetIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		// "31,32" is accepted as well as separate arguments.
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := parseDatasetID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// addOutputFlags registers --json and --yaml on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.Flags().Bool("yaml", false, "Output as YAML")
}

// outputFormat picks the format from --json/--yaml, falling back to the
// configured output format.
func outputFormat(app *appctx.App, cmd *cobra.Command) (render.Format, error) {
	if v, _ := cmd.Flags().GetBool("json"); v {
		return render.FormatJSON, nil
	}
	if v, _ := cmd.Flags().GetBool("yaml"); v {
		return render.FormatYAML, nil
	}
	return render.ParseFormat(app.Config.Output)
}

func isStructured(f render.Format) bool {
	return f == render.FormatJSON || f == render.FormatYAML
}

func renderer(w io.Writer, f render.Format) *render.Renderer {
	return render.NewRenderer(w, render.Options{Format: f})
}
