package main

import (
	"flag"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/coldbase/rpctransport/buffer"
	"github.com/coldbase/rpctransport/transport"
)

func main() {
	locator := flag.String("locator", "tcp:host=127.0.0.1,port=11111", "server locator to dial")
	message := flag.String("message", "hello", "payload to echo")
	flag.Parse()

	client := transport.NewClientTransport(transport.DefaultOptions())

	sess, err := client.GetSession(*locator)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpcecho:", err)
		os.Exit(1)
	}

	request := buffer.NewFromBytes([]byte(*message))
	reply := buffer.New()

	rpc, err := sess.Send(request, reply)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpcecho: send:", err)
		os.Exit(1)
	}

	<-rpc.Done()
	if err := rpc.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rpcecho: rpc failed:", err)
		os.Exit(1)
	}

	fmt.Println(string(reply.Bytes()))
}
