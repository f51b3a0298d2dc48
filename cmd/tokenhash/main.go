package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/2beens/fixfit/pkg"

	log "github.com/sirupsen/logrus"
)

// prints the bcrypt hash to use as FIXFIT_ADMIN_TOKEN_HASH
func main() {
	token := flag.String("token", "", "admin token to hash; read from stdin when empty")
	cost := flag.Int("cost", pkg.TokenHashCost, "bcrypt cost")
	flag.Parse()

	if *token == "" {
		fmt.Print("admin token: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			log.Fatalf("read token: %s", err)
		}
		*token = strings.TrimSpace(line)
	}
	if *token == "" {
		log.Fatalln("empty token")
	}

	hash, err := pkg.HashToken(*token, *cost)
	if err != nil {
		log.Fatalln(err)
	}
	if !pkg.CheckTokenHash(*token, hash) {
		log.Fatalln("hash check failed")
	}

	fmt.Println(hash)
}
