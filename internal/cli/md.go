package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/LouisLau-art/arktrans/processor"
)

func newMdCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "md <path>",
		Short: "Translate Markdown files",
		Long: `Translate a Markdown file or every Markdown file in a directory.

Code blocks, inline code, and link destinations are preserved; prose and
selected frontmatter fields are translated. A file that fails to translate
is reported and skipped; the command exits non-zero if any file failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMd(cmd.Context(), flags, args[0])
		},
	}

	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "output file or directory (default: <file>_translated or <dir>/translated)")
	cmd.Flags().StringVar(&flags.SourceLang, "source-lang", "", "source language (auto-detect if not specified)")
	cmd.Flags().StringVarP(&flags.TargetLang, "target-lang", "t", flags.TargetLang, "target language")
	cmd.Flags().BoolVarP(&flags.Recursive, "recursive", "r", false, "recursively translate subdirectories")

	return cmd
}

func runMd(ctx context.Context, flags *Flags, input string) error {
	start := time.Now()

	translator, closeTracker, err := buildTranslator(flags)
	if err != nil {
		return err
	}
	defer closeTracker()

	proc := processor.NewMarkdown(translator,
		processor.WithMaxInputTokens(translator.Config().MaxInputTokens))

	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}

	output := flags.Output
	if output == "" {
		output = defaultOutputPath(input, info.IsDir())
	}

	var files []string
	if info.IsDir() {
		if flags.Recursive {
			files, err = proc.FindFilesRecursive(input)
		} else {
			files, err = proc.FindFiles(input)
		}
		if err != nil {
			return err
		}
	} else {
		files = []string{input}
	}

	if len(files) == 0 {
		return errors.New("no Markdown files found")
	}

	slog.Info("starting Markdown translation",
		"input", input, "output", output,
		"target_lang", flags.TargetLang, "recursive", flags.Recursive,
		"files", len(files))

	bar := progressbar.Default(int64(len(files)), "translating")

	processed := 0
	failed := 0
	for _, file := range files {
		bar.Describe(fmt.Sprintf("translating %s", filepath.Base(file)))

		outPath := output
		if info.IsDir() {
			outPath = outputPathFor(input, output, file)
		}

		if err := proc.TranslateFile(ctx, file, outPath, flags.TargetLang, flags.SourceLang); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "Error processing %s: %v\n", file, err)
		} else {
			processed++
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("\nTranslation completed!\n")
	fmt.Printf("   Processed: %d\n", processed)
	fmt.Printf("   Failed:    %d\n", failed)
	fmt.Printf("   Time:      %s\n", time.Since(start).Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// defaultOutputPath names the output next to the input: directories get a
// "translated" subdirectory, files a "_translated" name suffix.
func defaultOutputPath(input string, isDir bool) string {
	if isDir {
		return filepath.Join(input, "translated")
	}
	return input + "_translated"
}

// outputPathFor maps a found file to its place under the output directory,
// preserving the directory structure relative to the input root.
func outputPathFor(inputDir, outputDir, file string) string {
	rel, err := filepath.Rel(inputDir, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	return filepath.Join(outputDir, rel)
}
