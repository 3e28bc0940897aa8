package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/herald/internal/config"
	"github.com/kalambet/herald/internal/voice"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger a pipeline run on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/runs", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Pipeline run started")
		printStep("Watch progress with: herald status")
		return nil
	},
}

// --- learn ---

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn the voice profile from writing samples",
	Long: `Learn the voice profile from writing samples.

Posts come from a text file, one post per line. Brand documents can be
plain text, markdown, or PDF.

Examples:
  herald learn --posts ./posts.txt
  herald learn --posts ./posts.txt --doc ./brand-guide.pdf --doc ./tone.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		postsFile, _ := cmd.Flags().GetString("posts")
		docFiles, _ := cmd.Flags().GetStringArray("doc")

		if postsFile == "" {
			return fmt.Errorf("--posts is required")
		}

		data, err := os.ReadFile(postsFile)
		if err != nil {
			return fmt.Errorf("reading posts file: %w", err)
		}
		var posts []string
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				posts = append(posts, line)
			}
		}
		if len(posts) == 0 {
			return fmt.Errorf("no posts found in %s", postsFile)
		}

		var docs []string
		for _, path := range docFiles {
			var text string
			if strings.HasSuffix(strings.ToLower(path), ".pdf") {
				text, err = voice.ExtractPDFText(path)
				if err != nil {
					return fmt.Errorf("extracting %s: %w", path, err)
				}
			} else {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				text = string(raw)
			}
			if strings.TrimSpace(text) != "" {
				docs = append(docs, text)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Learning from %d posts and %d docs...", len(posts), len(docs))
		resp, err := client.post(cmd.Context(), "/voice/learn", map[string]any{
			"posts": posts,
			"docs":  docs,
		})
		if err != nil {
			return err
		}

		var profile voice.Profile
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		printSuccess("Voice profile updated (tone: %s)", strings.Join(profile.Tone, ", "))
		return nil
	},
}

func init() {
	learnCmd.Flags().String("posts", "", "text file with one post per line")
	learnCmd.Flags().StringArray("doc", nil, "brand document (text, markdown, or PDF); repeatable")
}

// --- content ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Inspect generated drafts",
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/content?limit=%d", limit))
		if err != nil {
			return err
		}

		var drafts []struct {
			ID                string   `json:"id"`
			Body              []string `json:"body"`
			Kind              string   `json:"kind"`
			SourceDescription string   `json:"source_description"`
			RelevanceScore    float64  `json:"relevance_score"`
			CreatedAt         string   `json:"created_at"`
		}
		if err := decodeJSON(resp, &drafts); err != nil {
			return err
		}

		if len(drafts) == 0 {
			fmt.Println("No drafts yet.")
			return nil
		}

		for _, d := range drafts {
			preview := ""
			if len(d.Body) > 0 {
				preview = d.Body[0]
			}
			if len(preview) > 80 {
				preview = preview[:80] + "..."
			}
			fmt.Printf("%s  %s  [%s %.2f]  %s\n",
				colorize(colorCyan, d.ID[:8]),
				d.CreatedAt,
				d.Kind,
				d.RelevanceScore,
				preview,
			)
		}
		return nil
	},
}

var contentShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single draft as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/content/"+args[0])
		if err != nil {
			return err
		}

		var draft any
		if err := decodeJSON(resp, &draft); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(draft)
	},
}

func init() {
	contentListCmd.Flags().Int("limit", 20, "maximum number of drafts to list")
	contentCmd.AddCommand(contentListCmd)
	contentCmd.AddCommand(contentShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
