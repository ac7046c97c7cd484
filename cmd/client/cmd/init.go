package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

var (
	initRemoteURL string
	initForce     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Создать конфигурацию агента",
	Long: `Команда init выполняет первоначальную настройку:
	1. Создает каталог данных ~/.fieldsync
	2. Генерирует токен доступа к API агента и сохраняет его bcrypt-хэш
	3. Записывает config.yaml с адресом удаленного API

Токен выводится один раз. Передайте его приложению, которое обращается к агенту.`,
	// init не открывает хранилище
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("не удалось определить домашний каталог: %w", err)
			}
			path = filepath.Join(home, ".fieldsync", "config.yaml")
		}

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("файл %s уже существует, используйте --force для перезаписи", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("ошибка проверки %s: %w", path, err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("ошибка создания каталога: %w", err)
		}

		token, hash, err := generateToken()
		if err != nil {
			return err
		}

		v := viper.New()
		v.Set("AGENT_TOKEN_HASH", hash)
		v.Set("DATA_DIR", filepath.Dir(path))
		if initRemoteURL != "" {
			v.Set("REMOTE_BASE_URL", initRemoteURL)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return fmt.Errorf("ошибка записи конфигурации: %w", err)
		}
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("ошибка установки прав на %s: %w", path, err)
		}

		fmt.Printf("Конфигурация записана в %s\n", path)
		fmt.Println()
		fmt.Println("Токен API агента (сохраните, повторно он не показывается):")
		color.New(color.FgGreen, color.Bold).Println(token)
		if initRemoteURL == "" {
			fmt.Println()
			color.Yellow("Адрес удаленного API не задан: добавьте REMOTE_BASE_URL в конфигурацию.")
		}
		return nil
	},
}

func generateToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("ошибка генерации токена: %w", err)
	}
	token := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("ошибка хэширования токена: %w", err)
	}
	return token, string(hash), nil
}

func init() {
	initCmd.Flags().StringVar(&initRemoteURL, "remote", "", "адрес удаленного API")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "перезаписать существующую конфигурацию")
}
