package server

import (
	"bytes"

	"golang.org/x/net/html"
)

// ClientPath is where the live reload client script is served.
const ClientPath = "/__sitewright/livereload.js"

// ClientTag is the element injected into every HTML page.
const ClientTag = `<script src="` + ClientPath + `"></script>`

// InjectScript inserts snippet before the last </body> end tag of doc, or
// appends it when the document has none.
func InjectScript(doc []byte, snippet string) []byte {
	z := html.NewTokenizer(bytes.NewReader(doc))

	offset, insertAt := 0, -1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		size := len(z.Raw())
		if tt == html.EndTagToken {
			if name, _ := z.TagName(); string(name) == "body" {
				insertAt = offset
			}
		}
		offset += size
	}
	if insertAt < 0 || insertAt > len(doc) {
		insertAt = len(doc)
	}

	out := make([]byte, 0, len(doc)+len(snippet))
	out = append(out, doc[:insertAt]...)
	out = append(out, snippet...)
	return append(out, doc[insertAt:]...)
}

const clientScript = `(function () {
  var overlayId = "sitewright-error-overlay";

  function showErrors(html) {
    var overlay = document.getElementById(overlayId);
    if (!overlay) {
      overlay = document.createElement("div");
      overlay.id = overlayId;
      overlay.style.cssText = "position:fixed;inset:0;z-index:2147483647;overflow:auto;" +
        "padding:2em;background:rgba(20,20,20,.92);color:#f88;font:14px/1.5 monospace";
      overlay.addEventListener("click", function () { overlay.remove(); });
      document.body.appendChild(overlay);
    }
    overlay.innerHTML = html;
  }

  function clearErrors() {
    var overlay = document.getElementById(overlayId);
    if (overlay) {
      overlay.remove();
    }
  }

  function refreshStylesheets(target) {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    for (var i = 0; i < links.length; i++) {
      var href = links[i].getAttribute("href") || "";
      var bare = href.split("?")[0];
      if (target && bare.indexOf(target) === -1 && target.indexOf(bare) === -1) {
        continue;
      }
      links[i].setAttribute("href", bare + "?t=" + Date.now());
    }
  }

  function connect() {
    var protocol = window.location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(protocol + "//" + window.location.host + "/ws");

    ws.onmessage = function (event) {
      var message = JSON.parse(event.data);
      switch (message.type) {
        case "full_reload":
          window.location.reload();
          break;
        case "css_update":
          refreshStylesheets(message.target);
          break;
        case "build_error":
          showErrors(message.content);
          break;
        case "build_success":
          clearErrors();
          break;
      }
    };

    ws.onclose = function () {
      setTimeout(connect, 2000);
    };
  }

  connect();
})();
`
