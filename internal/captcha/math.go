package captcha

import (
	"fmt"
	"strconv"
)

type MathChallenge struct {
	Question string
	Answer   string
}

// NewMathChallenge builds a two-digit addition or subtraction, or a
// multiplication of two numbers between 1 and 10. Answers are never negative.
func NewMathChallenge() MathChallenge {
	a := randIndex(90) + 10
	b := randIndex(90) + 10

	switch randIndex(3) {
	case 0:
		return MathChallenge{
			Question: fmt.Sprintf("What is %d + %d?", a, b),
			Answer:   strconv.Itoa(a + b),
		}
	case 1:
		if a < b {
			a, b = b, a
		}
		return MathChallenge{
			Question: fmt.Sprintf("What is %d - %d?", a, b),
			Answer:   strconv.Itoa(a - b),
		}
	default:
		a = a%10 + 1
		b = b%10 + 1
		return MathChallenge{
			Question: fmt.Sprintf("What is %d × %d?", a, b),
			Answer:   strconv.Itoa(a * b),
		}
	}
}
