package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/herbarium/internal/identification"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/lehigh-university-libraries/herbarium/internal/storage/memory"
	"github.com/lehigh-university-libraries/herbarium/internal/stores"
	"github.com/lehigh-university-libraries/herbarium/internal/upload"
)

func newIdentifyCmd() *cobra.Command {
	var (
		provider string
		model    string
		save     bool
		notes    string
		public   bool
		user     string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "identify <image>",
		Short: "Identify the plant in a photo and optionally save it",
		Args:  cobra.ExactArgs(1),
		Example: `  # Identify only
  herbarium identify leaf.jpg

  # Identify and save to alice's collection as a public plant
  herbarium identify leaf.jpg --save --user alice --notes "smells great" --public`,
		RunE: func(cmd *cobra.Command, args []string) error {
			imagePath := args[0]
			if _, err := os.Stat(imagePath); err != nil {
				return fmt.Errorf("image not found: %s", imagePath)
			}
			if save && user == "" {
				return fmt.Errorf("--user is required with --save")
			}

			identifier, err := identification.NewIdentifier(provider, model)
			if err != nil {
				return err
			}

			var plants storage.PlantStore = memory.NewPlantStore()
			var images storage.ImageStore = memory.NewImageStore()
			if save {
				st, err := stores.Open(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()
				plants, images = st.Plants, st.Images
			}

			wf := upload.New(identifier, plants, images, storage.StaticUser(user), upload.WithIdentifyTimeout(timeout))
			events := make(chan upload.Event, 4)
			wf.Subscribe(func(ev upload.Event) { events <- ev })

			if err := wf.BeginConfirm(imagePath); err != nil {
				return err
			}
			if err := wf.Identify(cmd.Context()); err != nil {
				return err
			}
			ev := <-events
			wf.Wait()
			if ev.Err != nil {
				return identifyError(ev.Err)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			if err := enc.Encode(ev.Result); err != nil {
				return err
			}

			if !save {
				return wf.Cancel()
			}

			if err := wf.Save(cmd.Context(), notes, public); err != nil {
				return err
			}
			ev = <-events
			wf.Wait()
			if ev.Err != nil {
				return fmt.Errorf("failed to save plant: %w", ev.Err)
			}
			return enc.Encode(ev.Record)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Identification provider (plantnet, gemini, openai or ollama)")
	cmd.Flags().StringVar(&model, "model", "", "Model name for the vision model providers")
	cmd.Flags().BoolVar(&save, "save", false, "Save the identified plant")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes stored with the plant")
	cmd.Flags().BoolVar(&public, "public", false, "Show the plant in the public gallery")
	cmd.Flags().StringVar(&user, "user", os.Getenv("HERBARIUM_USER"), "Owner of the saved plant")
	cmd.Flags().DurationVar(&timeout, "timeout", upload.DefaultIdentifyTimeout, "Timeout for the identification call")

	return cmd
}

func identifyError(err error) error {
	var failure *providers.Failure
	if errors.As(err, &failure) {
		return fmt.Errorf("%s (%s)", failure.UserMessage(), failure.Kind)
	}
	return err
}
