package common

import "fmt"

var (
	ErrNoSuccessfulBuild = fmt.Errorf("no successful build")
)
