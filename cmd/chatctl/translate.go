package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whisper/polyglot/internal/language"
	"github.com/whisper/polyglot/internal/translate"
)

func newTranslateCmd() *cobra.Command {
	var (
		targetLang string
		sourceLang string
	)

	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text through the configured provider",
		Long: `Translate text with the same pipeline the server uses. The provider is
chosen by TRANSLATION_PROVIDER. Without --from the source language is
detected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, err := translate.ParseEngineType(cfg.TranslationProvider)
			if err != nil {
				return err
			}
			provider, closeProvider, err := translate.NewProvider(cmd.Context(), translate.ProviderConfig{
				Engine:          engine,
				BaseURL:         cfg.TranslationBaseURL,
				APIKey:          cfg.TranslationAPIKey,
				CredentialsFile: cfg.GoogleCredentialsFile,
				Timeout:         cfg.TranslationTimeout,
				Logger:          log,
			})
			if err != nil {
				return err
			}
			defer closeProvider()

			langs := language.Default()
			if !langs.Supports(targetLang) {
				return fmt.Errorf("unsupported target language %q", targetLang)
			}
			pipeline := translate.NewPipeline(provider, translate.NewWhatlangDetector(langs), langs,
				translate.PipelineConfig{Timeout: cfg.TranslationTimeout, Workers: 1}, log)

			res := pipeline.Translate(cmd.Context(), strings.Join(args, " "), targetLang, sourceLang)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.TranslatedText)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s -> %s (%s)\n", res.SourceLanguage, res.TargetLanguage, res.Outcome)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetLang, "to", "t", "english", "Target language name or code")
	cmd.Flags().StringVarP(&sourceLang, "from", "f", "", "Source language (detected when empty)")
	return cmd
}
