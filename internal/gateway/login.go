package gateway

import (
	"context"
	"fmt"
	"os"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	qrterminal "github.com/mdp/qrterminal/v3"

	"github.com/local/forumcast/internal/errs"
)

// LoginQR drives an interactive QR login for the reader session, printing
// the code to the terminal the way the teacher's WhatsApp onboarding does
// (github.com/mdp/qrterminal), and blocking until the phone confirms or the
// code expires.
func LoginQR(ctx context.Context, appID int, appHash, sessionPath string) error {
	if err := os.MkdirAll(parentDir(sessionPath), 0o700); err != nil {
		return errs.New(errs.UpstreamFailure, "LoginQR", err)
	}
	client := telegram.NewClient(appID, appHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return err
		}
		if status.Authorized {
			fmt.Printf("Already authenticated as %s\n", status.User.Username)
			return nil
		}

		flow := auth.NewQRLogin(client.QR(), auth.QRLoginOnLoginToken(func(ctx context.Context, token qrlogin.Token) error {
			fmt.Println("Scan the QR code below with Telegram on your phone:")
			fmt.Println("(Settings > Devices > Link Desktop Device)")
			fmt.Println()
			qrterminal.GenerateHalfBlock(token.URL(), qrterminal.L, os.Stdout)
			fmt.Println()
			return nil
		}))

		if _, err := flow.Auth(ctx, client.Auth(), nil); err != nil {
			return fmt.Errorf("QR login failed: %w", err)
		}
		fmt.Println("Successfully authenticated!")
		return nil
	})
}

// LoginPhoneCode drives an interactive phone-number + code login, used when
// QR scanning is unavailable (e.g. headless onboarding over SSH with no
// paired device yet).
func LoginPhoneCode(ctx context.Context, appID int, appHash, sessionPath, phone string, promptCode func() (string, error)) error {
	if err := os.MkdirAll(parentDir(sessionPath), 0o700); err != nil {
		return errs.New(errs.UpstreamFailure, "LoginPhoneCode", err)
	}
	client := telegram.NewClient(appID, appHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return err
		}
		if status.Authorized {
			fmt.Printf("Already authenticated as %s\n", status.User.Username)
			return nil
		}

		flow := auth.NewFlow(
			codePrompt{phone: phone, prompt: promptCode},
			auth.SendCodeOptions{},
		)
		if err := flow.Run(ctx, client.Auth()); err != nil {
			return fmt.Errorf("phone login failed: %w", err)
		}
		fmt.Println("Successfully authenticated!")
		return nil
	})
}

// codePrompt implements auth.UserAuthenticator by delegating code entry to
// the caller-supplied promptCode function (a CLI prompt in practice).
type codePrompt struct {
	phone  string
	prompt func() (string, error)
}

func (c codePrompt) Phone(ctx context.Context) (string, error) { return c.phone, nil }
func (c codePrompt) Password(ctx context.Context) (string, error) {
	return "", fmt.Errorf("two-factor password login is not supported by this onboarding flow")
}
func (c codePrompt) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	return c.prompt()
}
func (c codePrompt) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return nil
}
func (c codePrompt) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, fmt.Errorf("account sign-up is not supported; the reader must be an existing Telegram account")
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
