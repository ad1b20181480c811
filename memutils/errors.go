package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is returned from CheckPow2 when a block or arena size is zero or has more than one bit set
var PowerOfTwoError = errors.New("size is not a power of two")
