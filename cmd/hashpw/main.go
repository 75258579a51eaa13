package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cocomeza/alcontruccionessrl/auth"
)

var password = flag.String("p", "", "password to hash; read from stdin when empty")

func main() {
	flag.Parse()

	pw := *password
	if pw == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatal(err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		log.Fatal("empty password")
	}
	hash, err := auth.HashPassword(pw)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(hash)
}
