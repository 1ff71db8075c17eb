// Command examples drives a running eagentd through the Go SDK: it runs a
// scheduling task, approves the drafted email and asks a policy question.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"OpenEA-Agent/sdk/go/eagent"
)

func main() {
	baseURL := os.Getenv("EAGENT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client, err := eagent.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("EAGENT_TOKEN"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := client.RunTask(ctx, "demo-user", "Schedule a 30-minute sync with Alex next Tuesday and draft the email for approval.")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Plan)
	for _, a := range res.Artifacts {
		for k, v := range a {
			fmt.Printf("artifact %s: %s\n", k, v)
		}
	}

	pending, err := client.ListApprovals(ctx, "demo-user", false)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range pending {
		out, err := client.Approve(ctx, p.ID)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("approved #%d executed=%v\n", out.Approval.ID, out.Executed)
	}

	ans, err := client.Ask(ctx, "What is the expense approval policy?")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s\ncitations: %v\n", ans.Text, ans.Citations)
}
