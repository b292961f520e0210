package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
)

type readOptions struct {
	dateOfBirth string
	leftPath    string
	rightPath   string
	asJSON      bool
}

func newReadCmd(root *rootOptions) *cobra.Command {
	opts := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Run one reading from the terminal",
		Long: `Send a birth date and photos of both palms to the Oracle and print the report.
Example: oracle read --dob 1990-08-15 --left left.jpg --right right.jpg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dateOfBirth, "dob", "", "date of birth (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.leftPath, "left", "", "photo of the left palm")
	cmd.Flags().StringVar(&opts.rightPath, "right", "", "photo of the right palm")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the raw reading as JSON")
	_ = cmd.MarkFlagRequired("dob")
	_ = cmd.MarkFlagRequired("left")
	_ = cmd.MarkFlagRequired("right")

	return cmd
}

func runRead(cmd *cobra.Command, root *rootOptions, opts *readOptions) error {
	ctx := cmd.Context()

	logger, err := newLogger(root)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	sub, err := opts.submission()
	if err != nil {
		return err
	}

	cfg, fetcher, err := loadConfig(ctx, logger, root)
	if err != nil {
		return err
	}
	defer func() {
		_ = fetcher.Close()
	}()

	service, _, err := newReadingService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !opts.asJSON {
		fmt.Fprintln(out, subtleStyle.Render("Consulting the Stars..."))
	}
	reading, err := service.Reveal(ctx, sub)
	if err != nil {
		logger.Warn("reading failed", zap.String("kind", string(oracle.KindOf(err))), zap.Error(err))
		fmt.Fprintln(cmd.ErrOrStderr(), renderFailure())
		return errors.New(oracle.GenericFailureMessage)
	}

	if opts.asJSON {
		return writeReadingJSON(out, reading)
	}
	fmt.Fprintln(out, renderReport(reading.Result))
	return nil
}

func (o *readOptions) submission() (oracle.Submission, error) {
	dob := strings.TrimSpace(o.dateOfBirth)
	if dob == "" {
		return oracle.Submission{}, errors.New("--dob is required")
	}
	left, err := readImageFile(o.leftPath)
	if err != nil {
		return oracle.Submission{}, fmt.Errorf("left hand: %w", err)
	}
	right, err := readImageFile(o.rightPath)
	if err != nil {
		return oracle.Submission{}, fmt.Errorf("right hand: %w", err)
	}
	return oracle.Submission{DateOfBirth: dob, LeftHand: left, RightHand: right}, nil
}

func readImageFile(path string) (*oracle.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return &oracle.Blob{Name: filepath.Base(path), Data: data}, nil
}

func writeReadingJSON(w io.Writer, reading oracle.Reading) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(struct {
		ID          string        `json:"id"`
		Result      oracle.Result `json:"result"`
		CompletedAt string        `json:"completedAt"`
	}{
		ID:          reading.ID,
		Result:      reading.Result,
		CompletedAt: reading.CompletedAt.UTC().Format(time.RFC3339),
	})
}
