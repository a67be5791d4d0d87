package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/herbarium/internal/gallery"
	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/stores"
)

func newGalleryCmd() *cobra.Command {
	var (
		user   string
		public bool
		page   int
		format string
	)

	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "List one page of saved plants",
		Example: `  # First page of alice's plants
  herbarium gallery --user alice

  # Second page of the public gallery as yaml
  herbarium gallery --public --page 1 --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(user, public)
			if err != nil {
				return err
			}

			st, err := stores.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			p := gallery.New(st.Plants, st.Images, scope)
			var update gallery.Update
			p.Subscribe(func(u gallery.Update) { update = u })
			p.Load(cmd.Context(), page)
			p.Wait()

			if update.Err != nil {
				return fmt.Errorf("%s: %w", gallery.UserMessage(update.Err), update.Err)
			}
			return printPage(cmd, update.Page, format)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Show this user's plants")
	cmd.Flags().BoolVar(&public, "public", false, "Show the public gallery")
	cmd.Flags().IntVar(&page, "page", 0, "Page index, starting at 0")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table or yaml)")

	return cmd
}

func scopeFromFlags(user string, public bool) (gallery.Scope, error) {
	switch {
	case public && user != "":
		return gallery.Scope{}, fmt.Errorf("use either --user or --public")
	case public:
		return gallery.Public(), nil
	case user != "":
		return gallery.User(user), nil
	default:
		return gallery.Scope{}, fmt.Errorf("--user or --public is required")
	}
}

func printPage(cmd *cobra.Command, page *models.GalleryPage, format string) error {
	out := cmd.OutOrStdout()

	if format == "yaml" {
		records := make([]models.PlantRecord, 0, len(page.Items))
		for _, item := range page.Items {
			records = append(records, item.Record)
		}
		return yaml.NewEncoder(out).Encode(map[string]any{
			"page":        page.PageIndex,
			"total_pages": page.TotalPages,
			"plants":      records,
		})
	}

	if page.TotalPages == 0 {
		fmt.Fprintln(out, "No plants saved yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMMON NAME\tSCIENTIFIC NAME\tFAMILY\tOWNER\tPUBLIC\tLIKES\tIMAGE BYTES")
	for _, item := range page.Items {
		r := item.Record
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%d\t%d\n", r.ID, r.CommonName, r.ScientificName, r.Family, r.OwnerUsername, r.IsPublic, len(r.Likes), len(item.Image))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nPage %d of %d\n", page.PageIndex+1, page.TotalPages)
	return nil
}
