package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/mail"
	"os"
	"regexp"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

const (
	roleParticipant = "participant"
	roleProctor     = "proctor"
)

type prompter struct {
	reader        *bufio.Reader
	passwordStdin bool
}

func (p *prompter) line(label string) string {
	fmt.Print(label)
	s, _ := p.reader.ReadString('\n')
	return strings.TrimSpace(s)
}

// password reads from the terminal without echo, or from stdin when piped.
func (p *prompter) password(minLen int) (string, error) {
	var pw string
	if p.passwordStdin {
		s, _ := p.reader.ReadString('\n')
		pw = strings.TrimRight(s, "\r\n")
	} else {
		fmt.Print("Enter Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = string(raw)
	}
	if len(pw) < minLen {
		return "", fmt.Errorf("password must be at least %d characters", minLen)
	}
	return pw, nil
}

func fail(msg string) {
	fmt.Println("Error: " + msg)
	os.Exit(1)
}

func main() {
	role := flag.String("role", roleParticipant, "Account type: participant or proctor")
	passwordStdin := flag.Bool("password-stdin", false, "Read the password from stdin instead of the terminal")
	flag.Parse()

	if *role != roleParticipant && *role != roleProctor {
		fail("-role must be participant or proctor")
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	p := &prompter{reader: bufio.NewReader(os.Stdin), passwordStdin: *passwordStdin}

	fmt.Printf("=== Create New %s ===\n", strings.ToUpper((*role)[:1])+(*role)[1:])

	name := p.line("Enter Full Name: ")
	if name == "" {
		fail("Name is required")
	}

	switch *role {
	case roleProctor:
		email := p.line("Enter Email: ")
		if _, err := mail.ParseAddress(email); err != nil {
			fail("A valid email is required")
		}
		password, err := p.password(6)
		if err != nil {
			fail(err.Error())
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}

		admin := &model.Admin{Email: email, Name: name, PasswordHash: string(hash)}
		if err := repository.NewAdminRepository(pool).Create(ctx, admin); err != nil {
			log.Fatal().Err(err).Msg("Failed to create proctor")
		}
		fmt.Printf("\nSuccess! Proctor '%s' (%s) created with ID: %d\n", admin.Name, admin.Email, admin.ID)

	default:
		username := p.line("Enter Username: ")
		if !usernamePattern.MatchString(username) {
			fail("Username must be 3-64 letters, digits, '.', '_' or '-'")
		}
		password, err := p.password(4)
		if err != nil {
			fail(err.Error())
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}

		participant := &model.Participant{Username: username, Name: name, PasswordHash: string(hash)}
		if err := repository.NewParticipantRepository(pool).Create(ctx, participant); err != nil {
			log.Fatal().Err(err).Msg("Failed to create participant")
		}
		fmt.Printf("\nSuccess! Participant '%s' (%s) created with ID: %d\n", participant.Name, participant.Username, participant.ID)
	}
}
