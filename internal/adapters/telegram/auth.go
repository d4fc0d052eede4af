// Терминальная авторизация MTProto-клиента: номер телефона приходит из
// конфигурации, код подтверждения и пароль 2FA запрашиваются в консоли.
// Когда интерактивная строка CLI не поднята, ввод читается напрямую из stdin.

package telegram

import (
	"bufio"
	"context"
	"os"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"github.com/sunil55999/Luffy/internal/infra/pr"
)

// TerminalAuthenticator реализует auth.UserAuthenticator для интерактивного
// входа наблюдателя. Формат номера не валидируется, ожидается E.164.
type TerminalAuthenticator struct {
	PhoneNumber string
}

var _ auth.UserAuthenticator = TerminalAuthenticator{}

// readLine выводит приглашение и читает одну строку ввода.
func readLine(prompt string) (string, error) {
	if rl := pr.Rl(); rl != nil {
		pr.SetPrompt(prompt)
		line, err := rl.Readline()
		return strings.TrimSpace(line), err
	}

	pr.Printf("%s", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Phone возвращает номер из конфигурации.
func (t TerminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

// Code запрашивает код подтверждения у оператора.
func (t TerminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine("Enter the code from Telegram: ")
}

// Password считывает пароль 2FA без отображения вводимых символов.
func (t TerminalAuthenticator) Password(_ context.Context) (string, error) {
	pr.Printf("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService показывает текст условий и требует явного согласия.
func (t TerminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp, "y") {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp собирает имя для первичной регистрации номера.
func (t TerminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := readLine("Enter your first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := readLine("Enter your last name (optional): ")
	return auth.UserInfo{FirstName: firstName, LastName: lastName}, nil
}
