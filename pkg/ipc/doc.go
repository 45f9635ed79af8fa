// Package ipc implements a secured, message-oriented channel between two
// processes on the same host.
//
// Messages travel over the native local duplex stream of the platform: a
// named pipe on Windows and a Unix domain socket elsewhere. Every message is
// one frame on the wire:
//
//	[4 bytes, little-endian unsigned] length L
//	[L bytes] payload
//
// When a Cipher is configured the payload is a 12-byte random nonce followed
// by the ChaCha20-Poly1305 ciphertext and its 16-byte tag. Both ends must
// agree on whether encryption is active; nothing is negotiated.
//
// Either side may additionally require that its peer runs the very same
// executable image (same resolved path) as itself. Verification happens once,
// right after the connection is established and before any message is
// exchanged, and fails closed.
//
// A server dispatches each accepted connection to its own goroutine:
//
//	srv, err := ipc.NewServer("my_pipe", ipc.WithIdentityEnforcement(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.Serve(ctx, ipc.HandlerFunc(func(ctx context.Context, conn *ipc.Connection) error {
//	    msg, err := conn.ReceiveString()
//	    if err != nil {
//	        return err
//	    }
//	    return conn.SendString("echo: " + msg)
//	}))
//
// A client owns exactly one channel:
//
//	client, err := ipc.NewClient("my_pipe", ipc.WithCipher(ipc.NewDefaultCipher()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	if err := client.SendString("ping"); err != nil {
//	    log.Fatal(err)
//	}
//	reply, err := client.ReceiveString()
package ipc
