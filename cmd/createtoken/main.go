package main

import (
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func main() {

	hoursPtr := flag.Int("hours", 1, "Number of hours the token should be valid")
	exchangePtr := flag.String("exchange", "played-bags", "Exchange to set")

	flag.Parse()
	// Read in the private key from the command line
	if len(flag.Args()) != 1 {
		fmt.Println("You must include the private key location as the first argument")
		os.Exit(1)
	}

	// Read in the private key
	pemString, err := os.ReadFile(flag.Args()[0])
	if err != nil {
		fmt.Println("Failed to read in private key:", flag.Args()[0], ":", err)
		os.Exit(1)
	}
	block, _ := pem.Decode(pemString)
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		fmt.Println("Failed to parse private key:", err)
		os.Exit(1)
	}

	type CustomClaims struct {
		Scope string `json:"scope"`
		jwt.RegisteredClaims
	}

	// Create the Claims
	claims := CustomClaims{
		"my_rabbit_server.write:bagplay/" + *exchangePtr,
		jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * time.Duration(*hoursPtr))),
			Issuer:    "bagplay",
			Audience:  jwt.ClaimStrings{"my_rabbit_server"},
			Subject:   "bagplay",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "bagplay"
	ss, err := token.SignedString(privateKey)
	if err != nil {
		fmt.Println("Failed to sign token:", err)
		os.Exit(1)
	}
	fmt.Printf("%v", ss)
}
