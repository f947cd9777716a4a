package main

import (
	_ "time/tzdata"

	"omoide-backend/cmd"
)

func main() {
	cmd.Execute()
}
