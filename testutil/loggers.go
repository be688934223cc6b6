package testutil

import (
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
)

// SetupTestLogging replaces the global sender with a plain console
// logger that drops records below warning, keeping connection retry
// chatter out of test output.
func SetupTestLogging() error {
	sender := send.MakePlainLogger()
	if err := sender.SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.Warning}); err != nil {
		return errors.Wrap(err, "setting test log threshold")
	}

	return errors.Wrap(grip.SetSender(sender), "installing test sender")
}
