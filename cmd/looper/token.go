package main

import (
	"fmt"
	"time"

	"github.com/julywind168/looper/inspect"
)

type TokenCmd struct {
	Secret  string        `required:"" env:"LOOPER_SECRET" help:"HS256 signing secret."`
	Subject string        `default:"cli" help:"Token subject, shown in gateway logs."`
	TTL     time.Duration `default:"24h" help:"Token lifetime."`
}

func (c *TokenCmd) Run() error {
	token, err := inspect.IssueToken(c.Secret, c.Subject, c.TTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
