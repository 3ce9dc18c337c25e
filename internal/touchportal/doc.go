// Package touchportal implements the plugin side of the TouchPortal plugin socket.
//
// TouchPortal starts a plugin process and expects it to connect to
// 127.0.0.1:12136, send {"type":"pair","id":"<plugin id>"} and then
// exchange newline-delimited JSON. The host replies with "info" (including
// current settings), sends "settings" whenever the user saves them, and
// "closePlugin" before shutting the plugin down.
//
// The package also models entry.tp, the static plugin description that
// declares settings, states and events; see Entry and WriteEntry.
//
// # Usage
//
//	client, err := touchportal.Connect(ctx, touchportal.Config{PluginID: "MyPlugin"}, handler)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	_ = client.UpdateState(ctx, "MyPlugin.BaseCategory.state.x", "42")
//	<-client.Done()
package touchportal
