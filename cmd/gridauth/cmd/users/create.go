package users

import (
	"bufio"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/terraconstructs/gridauth/internal/db/models"
	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/repository"
)

var (
	usernameFlag string
	nameFlag     string
	emailFlag    string
	subjectFlag  string
	passwordFlag string
	rolesInput   []string
	stdinFlag    bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a local account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}
		if emailFlag != "" {
			if _, err := mail.ParseAddress(emailFlag); err != nil {
				return fmt.Errorf("invalid email address %q: %w", emailFlag, err)
			}
		}

		password, err := readPassword()
		if err != nil {
			return err
		}
		if password == "" && subjectFlag == "" {
			return fmt.Errorf("a password or an OpenID --subject is required")
		}

		ctx := cmd.Context()
		return withRepository(ctx, func(users *repository.BunUserRepository) error {
			_, err := users.GetByUsername(ctx, usernameFlag)
			if err == nil {
				return fmt.Errorf("user %q already exists", usernameFlag)
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("failed to check username uniqueness: %w", err)
			}

			user := &models.User{
				Username: usernameFlag,
				Name:     nameFlag,
				Email:    emailFlag,
			}
			if user.Name == "" {
				user.Name = usernameFlag
			}
			if subjectFlag != "" {
				user.Subject = &subjectFlag
			}
			if password != "" {
				h, err := hashPassword(password)
				if err != nil {
					return err
				}
				user.PasswordHash = &h
			}

			if err := users.Create(ctx, user); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			roles := identity.NormalizeRoles(rolesInput)
			for _, role := range roles {
				if err := users.GrantRole(ctx, user.ID, role); err != nil {
					return fmt.Errorf("failed to assign role '%s': %w", role, err)
				}
			}

			fmt.Println("User created successfully!")
			fmt.Println("----------------------------------------")
			fmt.Printf("User ID: %s\n", user.ID)
			fmt.Printf("Username: %s\n", user.Username)
			fmt.Printf("Subject: %s\n", user.PrincipalSubject())
			if len(roles) > 0 {
				fmt.Printf("Roles: %s\n", strings.Join(roles, ", "))
			}
			fmt.Println("----------------------------------------")
			return nil
		})
	},
}

// readPassword returns --password, or a line from stdin with --stdin.
func readPassword() (string, error) {
	if !stdinFlag {
		return passwordFlag, nil
	}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("Enter password: ")
	var password string
	if scanner.Scan() {
		password = scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
