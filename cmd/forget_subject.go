package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/budget/crypto"
)

var forgetSubjectID string

var forgetSubjectCmd = &cobra.Command{
	Use:   "forget-subject",
	Short: "Delete the encryption key of a subject",
	Long:  `Delete the encryption key of a subject. Its personal data stays in the event log but can no longer be decrypted, and its streams can no longer be loaded`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID, err := uuid.Parse(forgetSubjectID)
		if err != nil {
			return errors.Wrap(err, "invalid subject id")
		}

		svc, err := initServices()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		return forgetSubject(ctx, svc.keys, subjectID)
	},
}

func init() {
	forgetSubjectCmd.Flags().StringVar(&forgetSubjectID, "subject", "", "Subject id")
	_ = forgetSubjectCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(forgetSubjectCmd)
}

func forgetSubject(ctx context.Context, keys crypto.KeyManager, subjectID uuid.UUID) error {
	if _, err := keys.GetKey(ctx, subjectID); err != nil {
		return err
	}

	if err := keys.DeleteKey(ctx, subjectID); err != nil {
		return err
	}

	log.Info().Str("subjectID", subjectID.String()).Msg("Subject key deleted")
	return nil
}
