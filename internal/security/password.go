package security

import (
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the number of characters a password needs to earn the length point.
const MinPasswordLength = 12

// passwordSymbols is the punctuation set that earns the symbol point.
const passwordSymbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

// PasswordStrength is the result of scoring a candidate password.
type PasswordStrength struct {
	IsValid  bool
	Score    int
	Feedback []string
}

type passwordRule struct {
	met     func(string) bool
	message string
}

// Rule order is the feedback order.
var passwordRules = []passwordRule{
	{func(p string) bool { return utf8.RuneCountInString(p) >= MinPasswordLength }, "Password must be at least 12 characters long"},
	{func(p string) bool { return strings.IndexFunc(p, isLowerASCII) >= 0 }, "Password must contain lowercase letters"},
	{func(p string) bool { return strings.IndexFunc(p, isUpperASCII) >= 0 }, "Password must contain uppercase letters"},
	{func(p string) bool { return strings.IndexFunc(p, isDigitASCII) >= 0 }, "Password must contain numbers"},
	{func(p string) bool { return strings.ContainsAny(p, passwordSymbols) }, "Password must contain special characters"},
}

// ScorePassword scores password against the five strength rules, one point per satisfied rule.
// The password is valid when at most one rule is unmet.
func ScorePassword(password string) PasswordStrength {
	var s PasswordStrength
	for _, r := range passwordRules {
		if r.met(password) {
			s.Score++
			continue
		}
		s.Feedback = append(s.Feedback, r.message)
	}
	s.IsValid = s.Score >= 4
	return s
}

func isLowerASCII(r rune) bool { return r >= 'a' && r <= 'z' }
func isUpperASCII(r rune) bool { return r >= 'A' && r <= 'Z' }
func isDigitASCII(r rune) bool { return r >= '0' && r <= '9' }
