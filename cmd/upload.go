package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tlarkin/revu/internal/models"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document for review",
	Long: `Upload a plain-text document (CV or cover letter) and register it
for review. Prints the document reference to pass to 'revu start'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadRun(args[0])
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func uploadRun(path string) error {
	owner, _, err := ownerAndService()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("document %s is empty", path)
	}

	doc := &models.Document{
		OwnerID:  owner,
		Filename: filepath.Base(path),
		Text:     string(data),
	}
	if err := s.CreateDocument(rootCmd.Context(), doc); err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	ui.Success("Uploaded %s (%d bytes)", doc.Filename, len(data))
	fmt.Fprintln(ui.Out, doc.Ref)
	return nil
}
