package main

import (
	"flag"
	"log"
	"sync"
	"time"

	"github.com/cocomeza/alcontruccionessrl/server"
)

var addr = flag.String("addr", "localhost:8080", "site to stress")
var obra = flag.String("obra", "", "obra id whose gallery is opened")
var nClients = flag.Int("nc", 100, "number of concurrent viewer sessions")
var nSteps = flag.Int("steps", 20, "ArrowRight presses per session")

func main() {

	flag.Parse()
	if *obra == "" {
		log.Fatal("missing -obra")
	}

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *nClients; i++ {
		c, e := server.Connect(nil, "ws://"+*addr+"/ws/gallery", *obra, 0, "")
		if e != nil {
			log.Printf("something wrong at n=%d", i)
			log.Fatal(e)
		}
		wg.Add(1)
		go func(n int, c *server.Client) {
			defer wg.Done()
			defer c.Stop()
			go c.ClientSendHeartbeat(time.Second)
			for s := 0; s < *nSteps; s++ {
				if err := c.Key("ArrowRight"); err != nil {
					log.Printf("client %d: %v", n, err)
					return
				}
				if _, err := c.WaitFor(server.MessageTypeState, 10*time.Second); err != nil {
					log.Printf("client %d: %v", n, err)
					return
				}
			}
		}(i, c)
	}
	log.Printf("successfully joined %d clients", *nClients)
	wg.Wait()
	log.Printf("%d sessions x %d steps in %v", *nClients, *nSteps, time.Since(start))
}
