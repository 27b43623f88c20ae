package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewTemplateCmd создаёт группу команд для сохранённых шаблонов.
func NewTemplateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage deployment templates",
	}

	cmd.AddCommand(
		newTemplateListCmd(clientFn, outputFn),
		newTemplateShowCmd(clientFn, outputFn),
		newTemplateSaveCmd(clientFn, outputFn),
		newTemplateDeleteCmd(clientFn, outputFn),
		newTemplatePlanCmd(clientFn, outputFn),
	)

	return cmd
}

func newTemplateListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			templates, err := clientFn().ListTemplates(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"NAME", "FT", "STEPS", "DESCRIPTION", "UPDATED"}
			rows := make([][]string, len(templates))
			for i, t := range templates {
				rows[i] = []string{t.Name, t.FTNumber, strconv.Itoa(t.Steps), t.Description, t.UpdatedAt}
			}

			out.Print(headers, rows, templates)
			return nil
		},
	}
}

func newTemplateShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a saved template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			tpl, err := clientFn().GetTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var doc any
			if err := json.Unmarshal(tpl.Template, &doc); err != nil {
				return fmt.Errorf("decode template: %w", err)
			}
			return out.Document(doc)
		},
	}
}

func newTemplateSaveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "save NAME -f FILE",
		Short: "Save a template under a name (YAML or JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			body, err := readTemplateFile(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			tpl, err := clientFn().SaveTemplate(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Template saved: %s", tpl.Name))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Template file (- for stdin)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newTemplateDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteTemplate(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Template deleted: %s", args[0]))
			return nil
		},
	}
}

func newTemplatePlanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "plan -f FILE",
		Short: "Show execution waves of a template without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			body, err := readTemplateFile(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			plan, err := clientFn().PlanTemplate(cmd.Context(), body)
			if err != nil {
				return err
			}

			headers := []string{"WAVE", "STEPS"}
			rows := make([][]string, len(plan.Waves))
			for i, wave := range plan.Waves {
				rows[i] = []string{strconv.Itoa(i + 1), joinInts(wave)}
			}

			out.Print(headers, rows, plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Template file (- for stdin)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// readTemplateFile читает шаблон из файла или stdin и приводит к JSON.
func readTemplateFile(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("template %s is empty", path)
	}
	if trimmed[0] == '{' {
		return trimmed, nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	return json.Marshal(doc)
}

func joinInts(list []int) string {
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
